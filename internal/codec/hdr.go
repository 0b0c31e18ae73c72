package codec

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"strings"

	"github.com/dunamismax/convertflow/internal/raster"
)

const (
	hdrMagic      = "#?RADIANCE"
	hdrMagicShort = "#?RGBE"
	hdrFormat     = "32-bit_rle_rgbe"

	hdrMinRLEWidth = 8
	hdrMaxRLEWidth = 0x7fff
	hdrMaxLine     = 4096
)

var errHDRHeader = errors.New("hdr: invalid header")

func init() {
	image.RegisterFormat("hdr", hdrMagic, decodeHDR, decodeHDRConfig)
	image.RegisterFormat("hdr", hdrMagicShort, decodeHDR, decodeHDRConfig)
}

type hdrHeader struct {
	width, height int
	bottomUp      bool
}

func readHDRLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) > hdrMaxLine {
		return "", errHDRHeader
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readHDRHeader(r *bufio.Reader) (hdrHeader, error) {
	first, err := readHDRLine(r)
	if err != nil {
		return hdrHeader{}, fmt.Errorf("hdr: read header: %w", err)
	}
	if !strings.HasPrefix(first, hdrMagicShort) && !strings.HasPrefix(first, hdrMagic) {
		return hdrHeader{}, errHDRHeader
	}

	for {
		line, err := readHDRLine(r)
		if err != nil {
			return hdrHeader{}, fmt.Errorf("hdr: read header: %w", err)
		}
		if line == "" {
			break
		}
		if value, ok := strings.CutPrefix(line, "FORMAT="); ok && value != hdrFormat {
			return hdrHeader{}, fmt.Errorf("hdr: unsupported format %q", value)
		}
	}

	res, err := readHDRLine(r)
	if err != nil {
		return hdrHeader{}, fmt.Errorf("hdr: read resolution: %w", err)
	}
	var h hdrHeader
	var ySign, xSign string
	if _, err := fmt.Sscanf(res, "%2s %d %2s %d", &ySign, &h.height, &xSign, &h.width); err != nil {
		return hdrHeader{}, fmt.Errorf("hdr: parse resolution %q: %w", res, err)
	}
	switch {
	case ySign == "-Y" && xSign == "+X":
	case ySign == "+Y" && xSign == "+X":
		h.bottomUp = true
	default:
		return hdrHeader{}, fmt.Errorf("hdr: unsupported orientation %q", res)
	}
	if err := checkSize(h.width, h.height); err != nil {
		return hdrHeader{}, fmt.Errorf("hdr: %w", err)
	}
	return h, nil
}

func decodeHDRConfig(r io.Reader) (image.Config, error) {
	h, err := readHDRHeader(bufio.NewReader(r))
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: raster.FloatModel, Width: h.width, Height: h.height}, nil
}

// decodeHDR decodes Radiance RGBE into an RGB32F image. Values are linear
// and may exceed 1.
func decodeHDR(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	h, err := readHDRHeader(br)
	if err != nil {
		return nil, err
	}

	img := raster.NewRGB32F(image.Rect(0, 0, h.width, h.height))
	line := make([]byte, 4*h.width)
	for row := 0; row < h.height; row++ {
		if err := readHDRScanline(br, line, h.width); err != nil {
			return nil, err
		}
		y := row
		if h.bottomUp {
			y = h.height - 1 - row
		}
		for x := 0; x < h.width; x++ {
			p := line[4*x : 4*x+4]
			r, g, b := rgbeToFloat(p[0], p[1], p[2], p[3])
			img.SetFloat(x, y, raster.Float{R: r, G: g, B: b, A: 1})
		}
	}
	return img, nil
}

// readHDRScanline fills line with RGBE quads. New-style run-length lines
// store each component separately; anything else is flat or old-style
// run-length encoded.
func readHDRScanline(r *bufio.Reader, line []byte, width int) error {
	if width >= hdrMinRLEWidth && width <= hdrMaxRLEWidth {
		peek, err := r.Peek(4)
		if err != nil {
			return fmt.Errorf("hdr: read scanline: %w", err)
		}
		if peek[0] == 2 && peek[1] == 2 && peek[2]&0x80 == 0 {
			if int(peek[2])<<8|int(peek[3]) != width {
				return fmt.Errorf("hdr: scanline width mismatch")
			}
			r.Discard(4)
			return readHDRComponents(r, line, width)
		}
	}
	return readHDRFlat(r, line, width)
}

func readHDRComponents(r *bufio.Reader, line []byte, width int) error {
	for c := 0; c < 4; c++ {
		for x := 0; x < width; {
			count, err := r.ReadByte()
			if err != nil {
				return fmt.Errorf("hdr: read run: %w", err)
			}
			if count > 128 {
				n := int(count - 128)
				if x+n > width {
					return fmt.Errorf("hdr: run overruns scanline")
				}
				v, err := r.ReadByte()
				if err != nil {
					return fmt.Errorf("hdr: read run: %w", err)
				}
				for ; n > 0; n-- {
					line[4*x+c] = v
					x++
				}
				continue
			}
			n := int(count)
			if n == 0 || x+n > width {
				return fmt.Errorf("hdr: invalid literal run")
			}
			for ; n > 0; n-- {
				v, err := r.ReadByte()
				if err != nil {
					return fmt.Errorf("hdr: read run: %w", err)
				}
				line[4*x+c] = v
				x++
			}
		}
	}
	return nil
}

func readHDRFlat(r *bufio.Reader, line []byte, width int) error {
	shift := 0
	for x := 0; x < width; {
		var p [4]byte
		if _, err := io.ReadFull(r, p[:]); err != nil {
			return fmt.Errorf("hdr: read pixel: %w", err)
		}
		if p[0] == 1 && p[1] == 1 && p[2] == 1 {
			if x == 0 {
				return fmt.Errorf("hdr: repeat before first pixel")
			}
			n := int(p[3]) << shift
			if x+n > width {
				return fmt.Errorf("hdr: run overruns scanline")
			}
			prev := line[4*(x-1) : 4*x]
			for ; n > 0; n-- {
				copy(line[4*x:4*x+4], prev)
				x++
			}
			shift += 8
			continue
		}
		copy(line[4*x:4*x+4], p[:])
		x++
		shift = 0
	}
	return nil
}

func rgbeToFloat(r, g, b, e uint8) (float32, float32, float32) {
	if e == 0 {
		return 0, 0, 0
	}
	f := float32(math.Ldexp(1, int(e)-(128+8)))
	return float32(r) * f, float32(g) * f, float32(b) * f
}

func floatToRGBE(r, g, b float32) [4]byte {
	v := max(r, g, b)
	if !(v >= 1e-32) {
		return [4]byte{}
	}
	m, e := math.Frexp(float64(v))
	scale := m * 256 / float64(v)
	return [4]byte{
		byte(float64(max(r, 0)) * scale),
		byte(float64(max(g, 0)) * scale),
		byte(float64(max(b, 0)) * scale),
		byte(e + 128),
	}
}

// encodeHDR writes Radiance RGBE with new-style run-length scanlines when
// the width allows it and flat pixels otherwise. Alpha is dropped.
func encodeHDR(w io.Writer, img image.Image, _ Options) error {
	b := img.Bounds()
	width := b.Dx()
	src := raster.ToRGBA32F(img)

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s\nFORMAT=%s\n\n-Y %d +X %d\n", hdrMagic, hdrFormat, b.Dy(), width); err != nil {
		return fmt.Errorf("encode hdr: %w", err)
	}
	rle := width >= hdrMinRLEWidth && width <= hdrMaxRLEWidth
	line := make([]byte, 4*width)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := 0; x < width; x++ {
			f := src.FloatAt(b.Min.X+x, y)
			p := floatToRGBE(f.R, f.G, f.B)
			copy(line[4*x:], p[:])
		}
		if !rle {
			bw.Write(line)
			continue
		}
		bw.Write([]byte{2, 2, byte(width >> 8), byte(width)})
		component := make([]byte, width)
		for c := 0; c < 4; c++ {
			for x := range component {
				component[x] = line[4*x+c]
			}
			writeHDRRuns(bw, component)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("encode hdr: %w", err)
	}
	return nil
}

// writeHDRRuns emits runs of at least four equal bytes as run packets and
// everything else as literal packets of up to 128 bytes.
func writeHDRRuns(w *bufio.Writer, data []byte) {
	const minRun = 4
	for i := 0; i < len(data); {
		run := 1
		for i+run < len(data) && run < 127 && data[i+run] == data[i] {
			run++
		}
		if run >= minRun {
			w.WriteByte(byte(128 + run))
			w.WriteByte(data[i])
			i += run
			continue
		}

		start := i
		for i < len(data) && i-start < 128 {
			run = 1
			for i+run < len(data) && run < minRun && data[i+run] == data[i] {
				run++
			}
			if run >= minRun {
				break
			}
			i++
		}
		w.WriteByte(byte(i - start))
		w.Write(data[start:i])
	}
}
