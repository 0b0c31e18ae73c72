package raster

import (
	"image"
	"image/color"
)

// RGB is an 8-bit image without an alpha channel. Pix holds R, G, B
// triples.
type RGB struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

// NewRGB returns an RGB image with the given bounds.
func NewRGB(r image.Rectangle) *RGB {
	w, h := r.Dx(), r.Dy()
	return &RGB{
		Pix:    make([]uint8, 3*w*h),
		Stride: 3 * w,
		Rect:   r,
	}
}

// RGBModel converts any color to an opaque color by discarding alpha from
// its non-premultiplied form.
var RGBModel = color.ModelFunc(func(c color.Color) color.Color {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return color.RGBA{R: n.R, G: n.G, B: n.B, A: 0xff}
})

func (p *RGB) ColorModel() color.Model { return RGBModel }

func (p *RGB) Bounds() image.Rectangle { return p.Rect }

func (p *RGB) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

func (p *RGB) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+3 : i+3]
	return color.RGBA{R: s[0], G: s[1], B: s[2], A: 0xff}
}

func (p *RGB) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	n := RGBModel.Convert(c).(color.RGBA)
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+3 : i+3]
	s[0], s[1], s[2] = n.R, n.G, n.B
}

// Opaque always reports true; image/png uses it to pick a truecolor
// encoding without alpha.
func (p *RGB) Opaque() bool { return true }

// Float is a non-premultiplied floating point color. Channels are nominally
// in [0, 1] but HDR sources may exceed 1.
type Float struct {
	R, G, B, A float32
}

func (c Float) RGBA() (r, g, b, a uint32) {
	alpha := clamp01(c.A)
	a = uint32(alpha*0xffff + 0.5)
	r = uint32(clamp01(c.R)*alpha*0xffff + 0.5)
	g = uint32(clamp01(c.G)*alpha*0xffff + 0.5)
	b = uint32(clamp01(c.B)*alpha*0xffff + 0.5)
	return r, g, b, a
}

// FloatModel converts colors to Float.
var FloatModel = color.ModelFunc(func(c color.Color) color.Color {
	switch v := c.(type) {
	case Float:
		return v
	case color.NRGBA:
		return Float{
			R: float32(v.R) / 0xff,
			G: float32(v.G) / 0xff,
			B: float32(v.B) / 0xff,
			A: float32(v.A) / 0xff,
		}
	}
	n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
	return Float{
		R: float32(n.R) / 0xffff,
		G: float32(n.G) / 0xffff,
		B: float32(n.B) / 0xffff,
		A: float32(n.A) / 0xffff,
	}
})

// RGBA32F is a 32-bit float image with alpha. Pix holds R, G, B, A.
type RGBA32F struct {
	Pix    []float32
	Stride int
	Rect   image.Rectangle
}

// NewRGBA32F returns an RGBA32F image with the given bounds.
func NewRGBA32F(r image.Rectangle) *RGBA32F {
	w, h := r.Dx(), r.Dy()
	return &RGBA32F{
		Pix:    make([]float32, 4*w*h),
		Stride: 4 * w,
		Rect:   r,
	}
}

func (p *RGBA32F) ColorModel() color.Model { return FloatModel }

func (p *RGBA32F) Bounds() image.Rectangle { return p.Rect }

func (p *RGBA32F) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*4
}

func (p *RGBA32F) At(x, y int) color.Color {
	return p.FloatAt(x, y)
}

func (p *RGBA32F) FloatAt(x, y int) Float {
	if !(image.Point{x, y}.In(p.Rect)) {
		return Float{}
	}
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+4 : i+4]
	return Float{R: s[0], G: s[1], B: s[2], A: s[3]}
}

func (p *RGBA32F) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	p.SetFloat(x, y, FloatModel.Convert(c).(Float))
}

func (p *RGBA32F) SetFloat(x, y int, f Float) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+4 : i+4]
	s[0], s[1], s[2], s[3] = f.R, f.G, f.B, f.A
}

// RGB32F is a 32-bit float image without alpha, as produced by radiance
// HDR decoding. Pix holds R, G, B.
type RGB32F struct {
	Pix    []float32
	Stride int
	Rect   image.Rectangle
}

// NewRGB32F returns an RGB32F image with the given bounds.
func NewRGB32F(r image.Rectangle) *RGB32F {
	w, h := r.Dx(), r.Dy()
	return &RGB32F{
		Pix:    make([]float32, 3*w*h),
		Stride: 3 * w,
		Rect:   r,
	}
}

func (p *RGB32F) ColorModel() color.Model { return FloatModel }

func (p *RGB32F) Bounds() image.Rectangle { return p.Rect }

func (p *RGB32F) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

func (p *RGB32F) At(x, y int) color.Color {
	return p.FloatAt(x, y)
}

func (p *RGB32F) FloatAt(x, y int) Float {
	if !(image.Point{x, y}.In(p.Rect)) {
		return Float{}
	}
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+3 : i+3]
	return Float{R: s[0], G: s[1], B: s[2], A: 1}
}

func (p *RGB32F) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	p.SetFloat(x, y, FloatModel.Convert(c).(Float))
}

func (p *RGB32F) SetFloat(x, y int, f Float) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+3 : i+3]
	s[0], s[1], s[2] = f.R, f.G, f.B
}

func (p *RGB32F) Opaque() bool { return true }

func clamp01(v float32) float32 {
	switch {
	case v != v || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
