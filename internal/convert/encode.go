package convert

import (
	"bytes"
	"image"

	"github.com/dunamismax/convertflow/internal/codec"
	"github.com/dunamismax/convertflow/internal/format"
)

// Encode serializes img as target, or as PNG when target is nil. Nothing is
// returned on failure.
func Encode(img image.Image, target *format.Kind, opts codec.Options) ([]byte, error) {
	kind := format.PNG
	if target != nil {
		kind = *target
	}

	var buf bytes.Buffer
	if err := codec.Encode(&buf, img, kind, opts); err != nil {
		return nil, Wrap(CodeCodec, err)
	}
	return buf.Bytes(), nil
}
