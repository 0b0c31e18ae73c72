package codec

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/dunamismax/convertflow/internal/raster"
)

var errPNMHeader = errors.New("pnm: invalid header")

func init() {
	for _, magic := range []string{"P1", "P2", "P3", "P4", "P5", "P6"} {
		image.RegisterFormat("pnm", magic, decodePNM, decodePNMConfig)
	}
}

type pnmHeader struct {
	magic         byte
	width, height int
	maxval        int
}

func (h pnmHeader) gray() bool {
	return h.magic == '1' || h.magic == '2' || h.magic == '4' || h.magic == '5'
}

func (h pnmHeader) bitmap() bool {
	return h.magic == '1' || h.magic == '4'
}

func (h pnmHeader) ascii() bool {
	return h.magic >= '1' && h.magic <= '3'
}

// pnmReader tokenises the whitespace and comment separated header and the
// ASCII raster variants.
type pnmReader struct {
	*bufio.Reader
}

func (r pnmReader) skipSpace() error {
	for {
		c, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch {
		case c == '#':
			if _, err := r.ReadString('\n'); err != nil {
				return err
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f':
		default:
			return r.UnreadByte()
		}
	}
}

func (r pnmReader) readInt() (int, error) {
	if err := r.skipSpace(); err != nil {
		return 0, err
	}
	n, digits := 0, 0
	for {
		c, err := r.ReadByte()
		if err == io.EOF && digits > 0 {
			return n, nil
		}
		if err != nil {
			return 0, err
		}
		if c < '0' || c > '9' {
			if digits == 0 {
				return 0, errPNMHeader
			}
			return n, r.UnreadByte()
		}
		n = n*10 + int(c-'0')
		if n > 1<<30 {
			return 0, errPNMHeader
		}
		digits++
	}
}

// readBit reads a single P1 sample. Samples need not be separated.
func (r pnmReader) readBit() (int, error) {
	if err := r.skipSpace(); err != nil {
		return 0, err
	}
	c, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if c != '0' && c != '1' {
		return 0, fmt.Errorf("pnm: invalid bit %q", c)
	}
	return int(c - '0'), nil
}

func readPNMHeader(r pnmReader) (pnmHeader, error) {
	var magic [2]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return pnmHeader{}, fmt.Errorf("pnm: read header: %w", err)
	}
	if magic[0] != 'P' || magic[1] < '1' || magic[1] > '6' {
		return pnmHeader{}, errPNMHeader
	}
	h := pnmHeader{magic: magic[1], maxval: 1}

	var err error
	if h.width, err = r.readInt(); err != nil {
		return pnmHeader{}, fmt.Errorf("pnm: read width: %w", err)
	}
	if h.height, err = r.readInt(); err != nil {
		return pnmHeader{}, fmt.Errorf("pnm: read height: %w", err)
	}
	if !h.bitmap() {
		if h.maxval, err = r.readInt(); err != nil {
			return pnmHeader{}, fmt.Errorf("pnm: read maxval: %w", err)
		}
		if h.maxval <= 0 || h.maxval > 0xffff {
			return pnmHeader{}, fmt.Errorf("pnm: invalid maxval %d", h.maxval)
		}
	}
	if err := checkSize(h.width, h.height); err != nil {
		return pnmHeader{}, fmt.Errorf("pnm: %w", err)
	}
	if !h.ascii() {
		// Exactly one whitespace byte separates the header from binary data.
		if _, err := r.ReadByte(); err != nil {
			return pnmHeader{}, fmt.Errorf("pnm: read header: %w", err)
		}
	}
	return h, nil
}

func pnmModel(h pnmHeader) color.Model {
	switch {
	case h.gray() && h.maxval > 0xff:
		return color.Gray16Model
	case h.gray():
		return color.GrayModel
	case h.maxval > 0xff:
		return color.RGBA64Model
	default:
		return raster.RGBModel
	}
}

func decodePNMConfig(r io.Reader) (image.Config, error) {
	h, err := readPNMHeader(pnmReader{bufio.NewReader(r)})
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: pnmModel(h), Width: h.width, Height: h.height}, nil
}

func decodePNM(r io.Reader) (image.Image, error) {
	pr := pnmReader{bufio.NewReader(r)}
	h, err := readPNMHeader(pr)
	if err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, h.width, h.height)

	if h.magic == '4' {
		return decodePBMRaw(pr, h, rect)
	}

	channels := 3
	if h.gray() {
		channels = 1
	}
	wide := h.maxval > 0xff
	samples := make([]int, h.width*channels)

	var (
		gray   *image.Gray
		gray16 *image.Gray16
		rgb    *raster.RGB
		rgb64  *image.RGBA64
	)
	switch {
	case h.gray() && wide:
		gray16 = image.NewGray16(rect)
	case h.gray():
		gray = image.NewGray(rect)
	case wide:
		rgb64 = image.NewRGBA64(rect)
	default:
		rgb = raster.NewRGB(rect)
	}

	row := make([]byte, len(samples))
	if wide {
		row = make([]byte, 2*len(samples))
	}
	for y := 0; y < h.height; y++ {
		switch {
		case h.magic == '1':
			for i := range samples {
				bit, err := pr.readBit()
				if err != nil {
					return nil, fmt.Errorf("pnm: read pixels: %w", err)
				}
				// PBM uses 1 for black.
				samples[i] = 1 - bit
			}
		case h.ascii():
			for i := range samples {
				v, err := pr.readInt()
				if err != nil {
					return nil, fmt.Errorf("pnm: read pixels: %w", err)
				}
				samples[i] = v
			}
		default:
			if _, err := io.ReadFull(pr, row); err != nil {
				return nil, fmt.Errorf("pnm: read pixels: %w", err)
			}
			for i := range samples {
				if wide {
					samples[i] = int(row[2*i])<<8 | int(row[2*i+1])
				} else {
					samples[i] = int(row[i])
				}
			}
		}

		for x := 0; x < h.width; x++ {
			switch {
			case gray != nil:
				gray.Pix[gray.PixOffset(x, y)] = scale8(samples[x], h.maxval)
			case gray16 != nil:
				gray16.SetGray16(x, y, color.Gray16{Y: scale16(samples[x], h.maxval)})
			case rgb != nil:
				o := rgb.PixOffset(x, y)
				rgb.Pix[o] = scale8(samples[3*x], h.maxval)
				rgb.Pix[o+1] = scale8(samples[3*x+1], h.maxval)
				rgb.Pix[o+2] = scale8(samples[3*x+2], h.maxval)
			default:
				rgb64.SetRGBA64(x, y, color.RGBA64{
					R: scale16(samples[3*x], h.maxval),
					G: scale16(samples[3*x+1], h.maxval),
					B: scale16(samples[3*x+2], h.maxval),
					A: 0xffff,
				})
			}
		}
	}

	switch {
	case gray != nil:
		return gray, nil
	case gray16 != nil:
		return gray16, nil
	case rgb != nil:
		return rgb, nil
	default:
		return rgb64, nil
	}
}

func decodePBMRaw(r io.Reader, h pnmHeader, rect image.Rectangle) (image.Image, error) {
	img := image.NewGray(rect)
	row := make([]byte, (h.width+7)/8)
	for y := 0; y < h.height; y++ {
		if _, err := io.ReadFull(r, row); err != nil {
			return nil, fmt.Errorf("pnm: read pixels: %w", err)
		}
		for x := 0; x < h.width; x++ {
			if row[x/8]&(0x80>>(x%8)) == 0 {
				img.Pix[img.PixOffset(x, y)] = 0xff
			}
		}
	}
	return img, nil
}

func scale8(v, maxval int) uint8 {
	if v > maxval {
		v = maxval
	}
	if maxval == 0xff {
		return uint8(v)
	}
	return uint8((v*0xff + maxval/2) / maxval)
}

func scale16(v, maxval int) uint16 {
	if v > maxval {
		v = maxval
	}
	return uint16((v*0xffff + maxval/2) / maxval)
}

// encodePNM writes binary PGM for grayscale sources and binary PPM
// otherwise. 16-bit sources keep a maxval of 65535. Alpha is dropped.
func encodePNM(w io.Writer, img image.Image, _ Options) error {
	b := img.Bounds()
	f := raster.Describe(img)
	gray := f.Layout == raster.LayoutGray || f.Layout == raster.LayoutGrayAlpha
	wide := f.Precision != raster.Uint8

	magic, maxval := "P6", 0xff
	if gray {
		magic = "P5"
	}
	if wide {
		maxval = 0xffff
	}

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s\n%d %d\n%d\n", magic, b.Dx(), b.Dy(), maxval); err != nil {
		return fmt.Errorf("encode pnm: %w", err)
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			var buf []byte
			switch {
			case gray && wide:
				v := color.Gray16Model.Convert(c).(color.Gray16).Y
				buf = []byte{byte(v >> 8), byte(v)}
			case gray:
				buf = []byte{color.GrayModel.Convert(c).(color.Gray).Y}
			case wide:
				n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
				buf = []byte{byte(n.R >> 8), byte(n.R), byte(n.G >> 8), byte(n.G), byte(n.B >> 8), byte(n.B)}
			default:
				n := color.NRGBAModel.Convert(c).(color.NRGBA)
				buf = []byte{n.R, n.G, n.B}
			}
			if _, err := bw.Write(buf); err != nil {
				return fmt.Errorf("encode pnm: %w", err)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("encode pnm: %w", err)
	}
	return nil
}
