//go:build !cgo

package codec

import (
	"errors"
	"image"
	"io"
)

var errWebPExport = errors.New("webp export requires cgo")

func Startup() error {
	return nil
}

func Shutdown() {}

// WebPEncodingAvailable reports whether this build can export WebP.
func WebPEncodingAvailable() bool {
	return false
}

func encodeWebP(_ io.Writer, _ image.Image, _ Options) error {
	return errWebPExport
}
