//go:build govips && cgo

package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// Startup initialises libvips. It is safe to call more than once.
func Startup() error {
	startupOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

// Shutdown releases libvips. Encoding WebP after Shutdown is not supported.
func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

// WebPEncodingAvailable reports whether this build can export WebP.
func WebPEncodingAvailable() bool {
	return true
}

func encodeWebP(w io.Writer, img image.Image, opts Options) error {
	if err := Startup(); err != nil {
		return err
	}

	// libvips imports from an encoded buffer; PNG keeps the pixels lossless
	// on the way in.
	var staged bytes.Buffer
	if err := png.Encode(&staged, img); err != nil {
		return fmt.Errorf("stage webp input: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(staged.Bytes())
	if err != nil {
		return fmt.Errorf("load webp input: %w", err)
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	params.Quality = webpQuality(opts)
	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return fmt.Errorf("encode webp: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write webp: %w", err)
	}
	return nil
}
