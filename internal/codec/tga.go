package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/dunamismax/convertflow/internal/raster"
)

const (
	tgaColorMapped    = 1
	tgaTrueColor      = 2
	tgaGrayscale      = 3
	tgaRLEColorMapped = 9
	tgaRLETrueColor   = 10
	tgaRLEGrayscale   = 11

	tgaHeaderLen = 18

	tgaOriginRight = 0x10
	tgaOriginTop   = 0x20
)

type tgaHeader struct {
	idLength      uint8
	colorMapType  uint8
	imageType     uint8
	mapFirst      int
	mapLength     int
	mapDepth      uint8
	width, height int
	depth         uint8
	descriptor    uint8
}

func (h tgaHeader) rle() bool {
	return h.imageType >= tgaRLEColorMapped
}

func (h tgaHeader) baseType() uint8 {
	if h.rle() {
		return h.imageType - 8
	}
	return h.imageType
}

func (h tgaHeader) alphaBits() uint8 {
	return h.descriptor & 0x0f
}

func readTGAHeader(r io.Reader) (tgaHeader, error) {
	var b [tgaHeaderLen]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return tgaHeader{}, fmt.Errorf("tga: read header: %w", err)
	}
	h := tgaHeader{
		idLength:     b[0],
		colorMapType: b[1],
		imageType:    b[2],
		mapFirst:     int(binary.LittleEndian.Uint16(b[3:5])),
		mapLength:    int(binary.LittleEndian.Uint16(b[5:7])),
		mapDepth:     b[7],
		width:        int(binary.LittleEndian.Uint16(b[12:14])),
		height:       int(binary.LittleEndian.Uint16(b[14:16])),
		depth:        b[16],
		descriptor:   b[17],
	}

	switch h.baseType() {
	case tgaColorMapped:
		if h.colorMapType != 1 || h.depth != 8 {
			return tgaHeader{}, fmt.Errorf("tga: unsupported color-mapped depth %d", h.depth)
		}
	case tgaTrueColor:
		if h.depth != 15 && h.depth != 16 && h.depth != 24 && h.depth != 32 {
			return tgaHeader{}, fmt.Errorf("tga: unsupported depth %d", h.depth)
		}
	case tgaGrayscale:
		if h.depth != 8 && h.depth != 16 {
			return tgaHeader{}, fmt.Errorf("tga: unsupported grayscale depth %d", h.depth)
		}
	default:
		return tgaHeader{}, fmt.Errorf("tga: unsupported image type %d", h.imageType)
	}
	if err := checkSize(h.width, h.height); err != nil {
		return tgaHeader{}, fmt.Errorf("tga: %w", err)
	}
	return h, nil
}

// tgaPixel converts one little-endian pixel of the given depth. Grayscale
// 16-bit pixels carry a luminance byte followed by alpha.
func tgaPixel(p []byte, depth uint8, gray, useAlpha bool) color.NRGBA {
	switch {
	case gray && depth == 16:
		return color.NRGBA{R: p[0], G: p[0], B: p[0], A: p[1]}
	case gray:
		return color.NRGBA{R: p[0], G: p[0], B: p[0], A: 0xff}
	case depth == 15 || depth == 16:
		v := binary.LittleEndian.Uint16(p)
		c := color.NRGBA{
			R: expand5(uint8(v>>10) & 0x1f),
			G: expand5(uint8(v>>5) & 0x1f),
			B: expand5(uint8(v) & 0x1f),
			A: 0xff,
		}
		if depth == 16 && useAlpha && v&0x8000 == 0 {
			c.A = 0
		}
		return c
	case depth == 24:
		return color.NRGBA{R: p[2], G: p[1], B: p[0], A: 0xff}
	default:
		a := p[3]
		if !useAlpha {
			a = 0xff
		}
		return color.NRGBA{R: p[2], G: p[1], B: p[0], A: a}
	}
}

func expand5(v uint8) uint8 {
	return v<<3 | v>>2
}

// decodeTGA decodes Truevision TGA. The format has no signature, so it is
// never registered for sniffing.
func decodeTGA(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	h, err := readTGAHeader(br)
	if err != nil {
		return nil, err
	}
	if _, err := br.Discard(int(h.idLength)); err != nil {
		return nil, fmt.Errorf("tga: skip image id: %w", err)
	}

	var palette []color.NRGBA
	if h.colorMapType == 1 {
		entry := (int(h.mapDepth) + 7) / 8
		raw := make([]byte, entry*h.mapLength)
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, fmt.Errorf("tga: read color map: %w", err)
		}
		if h.baseType() == tgaColorMapped {
			if entry < 2 || entry > 4 {
				return nil, fmt.Errorf("tga: unsupported color map depth %d", h.mapDepth)
			}
			palette = make([]color.NRGBA, h.mapLength)
			for i := range palette {
				palette[i] = tgaPixel(raw[i*entry:(i+1)*entry], h.mapDepth, false, true)
			}
		}
	}

	gray := h.baseType() == tgaGrayscale
	// Some writers leave the alpha bits unset for 32-bit images; treat a
	// 32-bit pixel as carrying alpha regardless.
	useAlpha := h.alphaBits() > 0 || h.depth == 32
	bpp := (int(h.depth) + 7) / 8
	total := h.width * h.height
	data := make([]byte, total*bpp)

	if h.rle() {
		if err := readTGARLE(br, data, bpp); err != nil {
			return nil, err
		}
	} else if _, err := io.ReadFull(br, data); err != nil {
		return nil, fmt.Errorf("tga: read pixels: %w", err)
	}

	img := image.NewNRGBA(image.Rect(0, 0, h.width, h.height))
	for i := 0; i < total; i++ {
		p := data[i*bpp : (i+1)*bpp]
		var c color.NRGBA
		if palette != nil {
			idx := int(p[0]) - h.mapFirst
			if idx < 0 || idx >= len(palette) {
				return nil, fmt.Errorf("tga: color index %d out of range", p[0])
			}
			c = palette[idx]
		} else {
			c = tgaPixel(p, h.depth, gray, useAlpha)
		}

		x, y := i%h.width, i/h.width
		if h.descriptor&tgaOriginRight != 0 {
			x = h.width - 1 - x
		}
		if h.descriptor&tgaOriginTop == 0 {
			y = h.height - 1 - y
		}
		img.SetNRGBA(x, y, c)
	}

	if gray && h.depth == 8 {
		return toGray(img), nil
	}
	if palette == nil && !useAlpha && !gray {
		return raster.ToRGB(img), nil
	}
	return img, nil
}

func toGray(src *image.NRGBA) *image.Gray {
	dst := image.NewGray(src.Rect)
	for i := 0; i < len(dst.Pix); i++ {
		dst.Pix[i] = src.Pix[4*i]
	}
	return dst
}

func readTGARLE(r *bufio.Reader, dst []byte, bpp int) error {
	for n := 0; n < len(dst); {
		hdr, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("tga: read packet: %w", err)
		}
		count := int(hdr&0x7f) + 1
		if n+count*bpp > len(dst) {
			return fmt.Errorf("tga: packet overruns image")
		}
		if hdr&0x80 != 0 {
			if _, err := io.ReadFull(r, dst[n:n+bpp]); err != nil {
				return fmt.Errorf("tga: read packet: %w", err)
			}
			for i := 1; i < count; i++ {
				copy(dst[n+i*bpp:n+(i+1)*bpp], dst[n:n+bpp])
			}
		} else if _, err := io.ReadFull(r, dst[n:n+count*bpp]); err != nil {
			return fmt.Errorf("tga: read packet: %w", err)
		}
		n += count * bpp
	}
	return nil
}

// encodeTGA writes an uncompressed top-left origin image: 8-bit grayscale
// for gray sources, 32-bit BGRA when the source has alpha and 24-bit BGR
// otherwise.
func encodeTGA(w io.Writer, img image.Image, _ Options) error {
	b := img.Bounds()
	if b.Dx() > 0xffff || b.Dy() > 0xffff {
		return fmt.Errorf("encode tga: %dx%d exceeds 65535", b.Dx(), b.Dy())
	}
	f := raster.Describe(img)

	var hdr [tgaHeaderLen]byte
	binary.LittleEndian.PutUint16(hdr[12:14], uint16(b.Dx()))
	binary.LittleEndian.PutUint16(hdr[14:16], uint16(b.Dy()))
	hdr[17] = tgaOriginTop
	switch {
	case f.Layout == raster.LayoutGray:
		hdr[2], hdr[16] = tgaGrayscale, 8
	case f.Layout.HasAlpha():
		hdr[2], hdr[16] = tgaTrueColor, 32
		hdr[17] |= 8
	default:
		hdr[2], hdr[16] = tgaTrueColor, 24
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("encode tga: %w", err)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			var err error
			switch hdr[16] {
			case 8:
				err = bw.WriteByte(color.GrayModel.Convert(c).(color.Gray).Y)
			case 32:
				n := color.NRGBAModel.Convert(c).(color.NRGBA)
				_, err = bw.Write([]byte{n.B, n.G, n.R, n.A})
			default:
				n := color.NRGBAModel.Convert(c).(color.NRGBA)
				_, err = bw.Write([]byte{n.B, n.G, n.R})
			}
			if err != nil {
				return fmt.Errorf("encode tga: %w", err)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("encode tga: %w", err)
	}
	return nil
}
