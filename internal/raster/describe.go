package raster

import (
	"fmt"
	"image"
	"image/color"
)

// Layout is the channel layout of a decoded image.
type Layout int

const (
	LayoutGray Layout = iota
	LayoutGrayAlpha
	LayoutRGB
	LayoutRGBA
)

func (l Layout) String() string {
	switch l {
	case LayoutGray:
		return "gray"
	case LayoutGrayAlpha:
		return "gray+alpha"
	case LayoutRGB:
		return "rgb"
	case LayoutRGBA:
		return "rgba"
	default:
		return "unknown"
	}
}

// HasAlpha reports whether the layout carries an alpha channel.
func (l Layout) HasAlpha() bool {
	return l == LayoutGrayAlpha || l == LayoutRGBA
}

// Precision is the per-channel numeric type of a decoded image.
type Precision int

const (
	Uint8 Precision = iota
	Uint16
	Float32
)

func (p Precision) String() string {
	switch p {
	case Uint8:
		return "u8"
	case Uint16:
		return "u16"
	case Float32:
		return "f32"
	default:
		return "unknown"
	}
}

// Format is the pixel representation of a decoded image.
type Format struct {
	Layout    Layout
	Precision Precision
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%s", f.Layout, f.Precision)
}

// Describe reports the pixel representation of img, derived from its
// concrete type. Types it does not know are treated as 16-bit RGBA since
// that is what color.Color.RGBA exposes.
func Describe(img image.Image) Format {
	switch m := img.(type) {
	case *image.Gray:
		return Format{LayoutGray, Uint8}
	case *image.Gray16:
		return Format{LayoutGray, Uint16}
	case *image.Alpha:
		return Format{LayoutGrayAlpha, Uint8}
	case *image.Alpha16:
		return Format{LayoutGrayAlpha, Uint16}
	case *image.RGBA, *image.NRGBA, *image.NYCbCrA:
		return Format{LayoutRGBA, Uint8}
	case *image.RGBA64, *image.NRGBA64:
		return Format{LayoutRGBA, Uint16}
	case *image.YCbCr, *image.CMYK:
		return Format{LayoutRGB, Uint8}
	case *image.Paletted:
		if paletteHasAlpha(m.Palette) {
			return Format{LayoutRGBA, Uint8}
		}
		return Format{LayoutRGB, Uint8}
	case *RGB:
		return Format{LayoutRGB, Uint8}
	case *RGB32F:
		return Format{LayoutRGB, Float32}
	case *RGBA32F:
		return Format{LayoutRGBA, Float32}
	default:
		return Format{LayoutRGBA, Uint16}
	}
}

func paletteHasAlpha(p color.Palette) bool {
	for _, c := range p {
		if _, _, _, a := c.RGBA(); a != 0xffff {
			return true
		}
	}
	return false
}
