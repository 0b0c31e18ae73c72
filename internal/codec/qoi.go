package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/dunamismax/convertflow/internal/raster"
)

const (
	qoiMagic = "qoif"

	qoiOpIndex = 0x00
	qoiOpDiff  = 0x40
	qoiOpLuma  = 0x80
	qoiOpRun   = 0xc0
	qoiOpRGB   = 0xfe
	qoiOpRGBA  = 0xff
	qoiMask2   = 0xc0
)

var (
	errQOIHeader = errors.New("qoi: invalid header")
	qoiPadding   = [8]byte{0, 0, 0, 0, 0, 0, 0, 1}
)

func init() {
	image.RegisterFormat("qoi", qoiMagic, decodeQOI, decodeQOIConfig)
}

type qoiPixel struct {
	r, g, b, a uint8
}

func (p qoiPixel) hash() int {
	return (int(p.r)*3 + int(p.g)*5 + int(p.b)*7 + int(p.a)*11) % 64
}

type qoiHeader struct {
	width, height int
	channels      uint8
}

func readQOIHeader(r io.Reader) (qoiHeader, error) {
	var hdr [14]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return qoiHeader{}, fmt.Errorf("qoi: read header: %w", err)
	}
	if string(hdr[:4]) != qoiMagic {
		return qoiHeader{}, errQOIHeader
	}
	h := qoiHeader{
		width:    int(binary.BigEndian.Uint32(hdr[4:8])),
		height:   int(binary.BigEndian.Uint32(hdr[8:12])),
		channels: hdr[12],
	}
	if h.channels != 3 && h.channels != 4 {
		return qoiHeader{}, fmt.Errorf("qoi: unsupported channel count %d", h.channels)
	}
	if err := checkSize(h.width, h.height); err != nil {
		return qoiHeader{}, fmt.Errorf("qoi: %w", err)
	}
	return h, nil
}

func decodeQOIConfig(r io.Reader) (image.Config, error) {
	h, err := readQOIHeader(r)
	if err != nil {
		return image.Config{}, err
	}
	model := color.NRGBAModel
	if h.channels == 3 {
		model = raster.RGBModel
	}
	return image.Config{ColorModel: model, Width: h.width, Height: h.height}, nil
}

func decodeQOI(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	h, err := readQOIHeader(br)
	if err != nil {
		return nil, err
	}

	var (
		index [64]qoiPixel
		px    = qoiPixel{a: 255}
		run   int
	)
	rect := image.Rect(0, 0, h.width, h.height)
	var (
		rgb  *raster.RGB
		rgba *image.NRGBA
	)
	if h.channels == 3 {
		rgb = raster.NewRGB(rect)
	} else {
		rgba = image.NewNRGBA(rect)
	}

	total := h.width * h.height
	for i := 0; i < total; i++ {
		if run > 0 {
			run--
		} else {
			b1, err := br.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("qoi: read chunk: %w", err)
			}
			switch {
			case b1 == qoiOpRGB:
				var c [3]byte
				if _, err := io.ReadFull(br, c[:]); err != nil {
					return nil, fmt.Errorf("qoi: read rgb: %w", err)
				}
				px.r, px.g, px.b = c[0], c[1], c[2]
			case b1 == qoiOpRGBA:
				var c [4]byte
				if _, err := io.ReadFull(br, c[:]); err != nil {
					return nil, fmt.Errorf("qoi: read rgba: %w", err)
				}
				px = qoiPixel{c[0], c[1], c[2], c[3]}
			case b1&qoiMask2 == qoiOpIndex:
				px = index[b1]
			case b1&qoiMask2 == qoiOpDiff:
				px.r += (b1>>4)&0x03 - 2
				px.g += (b1>>2)&0x03 - 2
				px.b += b1&0x03 - 2
			case b1&qoiMask2 == qoiOpLuma:
				b2, err := br.ReadByte()
				if err != nil {
					return nil, fmt.Errorf("qoi: read luma: %w", err)
				}
				vg := b1&0x3f - 32
				px.r += vg - 8 + (b2>>4)&0x0f
				px.g += vg
				px.b += vg - 8 + b2&0x0f
			default:
				run = int(b1 & 0x3f)
			}
			index[px.hash()] = px
		}

		x, y := i%h.width, i/h.width
		if rgb != nil {
			o := rgb.PixOffset(x, y)
			rgb.Pix[o], rgb.Pix[o+1], rgb.Pix[o+2] = px.r, px.g, px.b
		} else {
			o := rgba.PixOffset(x, y)
			rgba.Pix[o], rgba.Pix[o+1], rgba.Pix[o+2], rgba.Pix[o+3] = px.r, px.g, px.b, px.a
		}
	}

	if rgb != nil {
		return rgb, nil
	}
	return rgba, nil
}

func encodeQOI(w io.Writer, img image.Image, _ Options) error {
	b := img.Bounds()
	channels := uint8(4)
	if !raster.Describe(img).Layout.HasAlpha() {
		channels = 3
	}

	bw := bufio.NewWriter(w)
	var hdr [14]byte
	copy(hdr[:4], qoiMagic)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(b.Dx()))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(b.Dy()))
	hdr[12] = channels
	hdr[13] = 0 // sRGB with linear alpha
	bw.Write(hdr[:])

	var (
		index [64]qoiPixel
		prev  = qoiPixel{a: 255}
		run   int
	)
	total := b.Dx() * b.Dy()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i++
			n := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			px := qoiPixel{n.R, n.G, n.B, n.A}
			if channels == 3 {
				px.a = 255
			}

			if px == prev {
				run++
				if run == 62 || i == total {
					bw.WriteByte(qoiOpRun | byte(run-1))
					run = 0
				}
				continue
			}

			if run > 0 {
				bw.WriteByte(qoiOpRun | byte(run-1))
				run = 0
			}

			h := px.hash()
			switch {
			case index[h] == px:
				bw.WriteByte(qoiOpIndex | byte(h))
			case px.a == prev.a:
				index[h] = px
				vr := int8(px.r - prev.r)
				vg := int8(px.g - prev.g)
				vb := int8(px.b - prev.b)
				vgr := vr - vg
				vgb := vb - vg
				switch {
				case vr > -3 && vr < 2 && vg > -3 && vg < 2 && vb > -3 && vb < 2:
					bw.WriteByte(qoiOpDiff | byte(vr+2)<<4 | byte(vg+2)<<2 | byte(vb+2))
				case vgr > -9 && vgr < 8 && vg > -33 && vg < 32 && vgb > -9 && vgb < 8:
					bw.WriteByte(qoiOpLuma | byte(vg+32))
					bw.WriteByte(byte(vgr+8)<<4 | byte(vgb+8))
				default:
					bw.Write([]byte{qoiOpRGB, px.r, px.g, px.b})
				}
			default:
				index[h] = px
				bw.Write([]byte{qoiOpRGBA, px.r, px.g, px.b, px.a})
			}
			prev = px
		}
	}

	bw.Write(qoiPadding[:])
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("encode qoi: %w", err)
	}
	return nil
}
