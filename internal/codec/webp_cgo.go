//go:build !govips && cgo

package codec

import (
	"fmt"
	"image"
	"io"

	"github.com/chai2010/webp"
)

func Startup() error {
	return nil
}

func Shutdown() {}

// WebPEncodingAvailable reports whether this build can export WebP.
func WebPEncodingAvailable() bool {
	return true
}

func encodeWebP(w io.Writer, img image.Image, opts Options) error {
	if err := webp.Encode(w, img, &webp.Options{Quality: float32(webpQuality(opts))}); err != nil {
		return fmt.Errorf("encode webp: %w", err)
	}
	return nil
}
