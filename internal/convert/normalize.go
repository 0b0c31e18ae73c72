package convert

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/convertflow/internal/format"
	"github.com/dunamismax/convertflow/internal/raster"
)

// IconSize is the side length every ICO output is resized to.
const IconSize = 256

type targetRule func(image.Image) image.Image

func identity(img image.Image) image.Image { return img }

func dropAlpha(img image.Image) image.Image { return raster.ToRGB(img) }

func resizeIcon(img image.Image) image.Image {
	return imaging.Resize(img, IconSize, IconSize, imaging.Lanczos)
}

func toFloat(img image.Image) image.Image { return raster.ToRGBA32F(img) }

// targetRules lists the fixup for every encoder. Encoders for JPEG, QOI,
// Farbfeld, PNM and TGA are fed 8-bit RGB, ICO needs a fixed size and
// OpenEXR is written from float data.
var targetRules = [format.KindCount]targetRule{
	format.PNG:      identity,
	format.JPEG:     dropAlpha,
	format.GIF:      identity,
	format.BMP:      identity,
	format.TIFF:     identity,
	format.WebP:     identity,
	format.ICO:      resizeIcon,
	format.TGA:      dropAlpha,
	format.PNM:      dropAlpha,
	format.QOI:      dropAlpha,
	format.Farbfeld: dropAlpha,
	format.OpenEXR:  toFloat,
	format.HDR:      identity,
}

// Normalize converts img into a layout the target encoder accepts. An HDR
// source is first reduced to 8-bit RGBA. src may be nil when the source
// has no raster codec.
func Normalize(img image.Image, src *format.Kind, target format.Kind) image.Image {
	if src != nil && *src == format.HDR {
		img = raster.ToNRGBA(img)
	}
	if !target.Valid() {
		target = format.PNG
	}
	return targetRules[target](img)
}
