package raster

import (
	"image"
	"image/color"
	"image/draw"
)

type floatImage interface {
	image.Image
	FloatAt(x, y int) Float
}

// ToRGB returns img as 8-bit RGB without alpha. Alpha is discarded, not
// composited.
func ToRGB(img image.Image) *RGB {
	if m, ok := img.(*RGB); ok {
		return m
	}

	b := img.Bounds()
	dst := NewRGB(b)
	switch src := img.(type) {
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			si := src.PixOffset(b.Min.X, y)
			di := dst.PixOffset(b.Min.X, y)
			for x := b.Min.X; x < b.Max.X; x++ {
				copy(dst.Pix[di:di+3], src.Pix[si:si+3])
				si += 4
				di += 3
			}
		}
	case floatImage:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				f := src.FloatAt(x, y)
				i := dst.PixOffset(x, y)
				dst.Pix[i] = to8(f.R)
				dst.Pix[i+1] = to8(f.G)
				dst.Pix[i+2] = to8(f.B)
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				n := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				i := dst.PixOffset(x, y)
				dst.Pix[i] = n.R
				dst.Pix[i+1] = n.G
				dst.Pix[i+2] = n.B
			}
		}
	}
	return dst
}

// ToNRGBA returns img as 8-bit non-premultiplied RGBA. Float channels are
// clamped to [0, 1].
func ToNRGBA(img image.Image) *image.NRGBA {
	if m, ok := img.(*image.NRGBA); ok {
		return m
	}

	b := img.Bounds()
	dst := image.NewNRGBA(b)
	if src, ok := img.(floatImage); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				f := src.FloatAt(x, y)
				i := dst.PixOffset(x, y)
				dst.Pix[i] = to8(f.R)
				dst.Pix[i+1] = to8(f.G)
				dst.Pix[i+2] = to8(f.B)
				dst.Pix[i+3] = to8(f.A)
			}
		}
		return dst
	}

	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

// ToRGBA32F returns img as 32-bit float RGBA. Float sources keep values
// outside [0, 1].
func ToRGBA32F(img image.Image) *RGBA32F {
	if m, ok := img.(*RGBA32F); ok {
		return m
	}

	b := img.Bounds()
	dst := NewRGBA32F(b)
	src, isFloat := img.(floatImage)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if isFloat {
				dst.SetFloat(x, y, src.FloatAt(x, y))
				continue
			}
			dst.SetFloat(x, y, FloatModel.Convert(img.At(x, y)).(Float))
		}
	}
	return dst
}

func to8(v float32) uint8 {
	return uint8(clamp01(v)*255 + 0.5)
}
