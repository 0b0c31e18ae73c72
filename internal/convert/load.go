package convert

import (
	"errors"
	"image"

	"github.com/dunamismax/convertflow/internal/codec"
	"github.com/dunamismax/convertflow/internal/format"
	"github.com/dunamismax/convertflow/internal/svg"
)

// Load decodes data into an image. A raster src selects its codec, a vector
// src is rasterized first, and a nil src means the format is inferred from
// the content.
//
// The kind result is the raster codec the image came from. The bool result
// is false for vector sources, which have no raster codec.
func Load(data []byte, src *format.SourceKind, settings Settings) (image.Image, format.Kind, bool, error) {
	if src == nil {
		img, kind, err := codec.Sniff(data)
		if err != nil {
			return nil, 0, false, Wrap(CodeUnknownSourceType, err)
		}
		return img, kind, true, nil
	}

	if src.IsVector() {
		img, err := loadVector(data, settings)
		return img, 0, false, err
	}

	kind, _ := src.RasterKind()
	img, err := codec.Decode(kind, data)
	if err != nil {
		return nil, 0, false, Wrap(CodeCodec, err)
	}
	return img, kind, true, nil
}

func loadVector(doc []byte, settings Settings) (image.Image, error) {
	opts := svg.DefaultSettings()
	if s, ok := settings.(SVGSettings); ok {
		opts = s.rasterSettings()
	}

	data, err := svg.Rasterize(doc, opts)
	if err != nil {
		var parseErr *svg.ParseError
		if errors.As(err, &parseErr) {
			return nil, Wrap(CodeSVGParse, err)
		}
		return nil, Wrap(CodeSVGEncoding, err)
	}

	img, err := codec.Decode(format.PNG, data)
	if err != nil {
		return nil, Wrap(CodeCodec, err)
	}
	return img, nil
}
