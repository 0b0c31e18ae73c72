package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
)

const (
	icoMagic       = "\x00\x00\x01\x00"
	icoDirLen      = 6
	icoEntryLen    = 16
	icoMaxSide     = 256
	bmpFileHdrLen  = 14
	pngSignature   = "\x89PNG\r\n\x1a\n"
	bmpInfoHdrSize = 40
)

var errICOHeader = errors.New("ico: invalid header")

func init() {
	image.RegisterFormat("ico", icoMagic, decodeICO, decodeICOConfig)
}

type icoEntry struct {
	width, height int
	size, offset  int
}

func readICODirectory(data []byte) ([]icoEntry, error) {
	if len(data) < icoDirLen || string(data[:4]) != icoMagic {
		return nil, errICOHeader
	}
	count := int(binary.LittleEndian.Uint16(data[4:6]))
	if count == 0 || len(data) < icoDirLen+count*icoEntryLen {
		return nil, errICOHeader
	}

	entries := make([]icoEntry, count)
	for i := range entries {
		e := data[icoDirLen+i*icoEntryLen:]
		entry := icoEntry{
			width:  int(e[0]),
			height: int(e[1]),
			size:   int(binary.LittleEndian.Uint32(e[8:12])),
			offset: int(binary.LittleEndian.Uint32(e[12:16])),
		}
		// Zero means 256.
		if entry.width == 0 {
			entry.width = icoMaxSide
		}
		if entry.height == 0 {
			entry.height = icoMaxSide
		}
		if entry.offset < 0 || entry.size <= 0 || entry.offset+entry.size > len(data) {
			return nil, fmt.Errorf("ico: entry %d out of range", i)
		}
		entries[i] = entry
	}
	return entries, nil
}

// largest picks the entry with the most pixels.
func largest(entries []icoEntry) icoEntry {
	best := entries[0]
	for _, e := range entries[1:] {
		if e.width*e.height > best.width*best.height {
			best = e
		}
	}
	return best
}

func decodeICOConfig(r io.Reader) (image.Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return image.Config{}, fmt.Errorf("ico: read: %w", err)
	}
	entries, err := readICODirectory(data)
	if err != nil {
		return image.Config{}, err
	}
	e := largest(entries)
	return image.Config{ColorModel: color.NRGBAModel, Width: e.width, Height: e.height}, nil
}

// decodeICO decodes the largest image in the icon directory. Entries are
// either embedded PNG streams or headerless DIBs with an AND mask.
func decodeICO(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ico: read: %w", err)
	}
	entries, err := readICODirectory(data)
	if err != nil {
		return nil, err
	}
	e := largest(entries)
	payload := data[e.offset : e.offset+e.size]

	if bytes.HasPrefix(payload, []byte(pngSignature)) {
		cfg, err := png.DecodeConfig(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("ico: %w", err)
		}
		if err := checkSize(cfg.Width, cfg.Height); err != nil {
			return nil, fmt.Errorf("ico: %w", err)
		}
		img, err := png.Decode(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("ico: %w", err)
		}
		return img, nil
	}
	return decodeICODIB(payload)
}

func decodeICODIB(dib []byte) (image.Image, error) {
	if len(dib) < bmpInfoHdrSize {
		return nil, fmt.Errorf("ico: truncated bitmap header")
	}
	infoLen := int(binary.LittleEndian.Uint32(dib[0:4]))
	width := int(int32(binary.LittleEndian.Uint32(dib[4:8])))
	// The stored height covers the XOR and AND bitmaps.
	height := int(int32(binary.LittleEndian.Uint32(dib[8:12]))) / 2
	depth := int(binary.LittleEndian.Uint16(dib[14:16]))
	colorsUsed := int(binary.LittleEndian.Uint32(dib[32:36]))
	if infoLen < bmpInfoHdrSize || infoLen > len(dib) {
		return nil, fmt.Errorf("ico: invalid bitmap header length %d", infoLen)
	}
	if err := checkSize(width, height); err != nil {
		return nil, fmt.Errorf("ico: %w", err)
	}

	paletteLen := 0
	if depth <= 8 {
		paletteLen = colorsUsed
		if paletteLen == 0 {
			paletteLen = 1 << depth
		}
	}
	xorStride := ((width*depth + 31) / 32) * 4
	andStride := ((width + 31) / 32) * 4
	xorStart := infoLen + paletteLen*4
	andStart := xorStart + xorStride*height
	if xorStart > len(dib) || andStart > len(dib) {
		return nil, fmt.Errorf("ico: truncated bitmap")
	}

	var img *image.NRGBA
	if depth == 32 {
		img = image.NewNRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			row := dib[xorStart+(height-1-y)*xorStride:]
			for x := 0; x < width; x++ {
				p := row[4*x : 4*x+4]
				img.SetNRGBA(x, y, color.NRGBA{R: p[2], G: p[1], B: p[0], A: p[3]})
			}
		}
	} else {
		if infoLen != bmpInfoHdrSize {
			return nil, fmt.Errorf("ico: unsupported bitmap header length %d", infoLen)
		}
		// Rebuild a BMP file around the DIB with the real height so the
		// standard decoder handles palettes and bit depths.
		fixed := make([]byte, bmpFileHdrLen+andStart)
		copy(fixed[0:2], "BM")
		binary.LittleEndian.PutUint32(fixed[2:6], uint32(len(fixed)))
		binary.LittleEndian.PutUint32(fixed[10:14], uint32(bmpFileHdrLen+xorStart))
		copy(fixed[bmpFileHdrLen:], dib[:andStart])
		binary.LittleEndian.PutUint32(fixed[bmpFileHdrLen+8:bmpFileHdrLen+12], uint32(height))
		decoded, err := bmp.Decode(bytes.NewReader(fixed))
		if err != nil {
			return nil, fmt.Errorf("ico: %w", err)
		}
		img = image.NewNRGBA(decoded.Bounds())
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.Set(x, y, decoded.At(x, y))
			}
		}
	}

	if andStart+andStride*height <= len(dib) {
		for y := 0; y < height; y++ {
			row := dib[andStart+(height-1-y)*andStride:]
			for x := 0; x < width; x++ {
				if row[x/8]&(0x80>>(x%8)) != 0 {
					img.Pix[img.PixOffset(x, y)+3] = 0
				}
			}
		}
	}
	return img, nil
}

// encodeICO writes a single-entry icon with a PNG payload. Both sides must
// be at most 256 pixels.
func encodeICO(w io.Writer, img image.Image, _ Options) error {
	b := img.Bounds()
	if b.Dx() > icoMaxSide || b.Dy() > icoMaxSide {
		return fmt.Errorf("encode ico: %dx%d exceeds %dx%d", b.Dx(), b.Dy(), icoMaxSide, icoMaxSide)
	}

	var payload bytes.Buffer
	if err := png.Encode(&payload, img); err != nil {
		return fmt.Errorf("encode ico: %w", err)
	}

	var hdr [icoDirLen + icoEntryLen]byte
	copy(hdr[:4], icoMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], 1)
	e := hdr[icoDirLen:]
	e[0] = byte(b.Dx() % icoMaxSide)
	e[1] = byte(b.Dy() % icoMaxSide)
	binary.LittleEndian.PutUint16(e[4:6], 1)
	binary.LittleEndian.PutUint16(e[6:8], 32)
	binary.LittleEndian.PutUint32(e[8:12], uint32(payload.Len()))
	binary.LittleEndian.PutUint32(e[12:16], uint32(len(hdr)))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("encode ico: %w", err)
	}
	if _, err := w.Write(payload.Bytes()); err != nil {
		return fmt.Errorf("encode ico: %w", err)
	}
	return nil
}
