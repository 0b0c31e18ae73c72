// Package svg rasterizes SVG documents into PNG bytes sized to a requested
// pixel box.
package svg

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

const (
	DefaultWidth  = 100
	DefaultHeight = 100

	// MaxPixels bounds the output buffer.
	MaxPixels = 1 << 26
)

var (
	// ErrInvalidSize is returned when the requested output has zero area.
	ErrInvalidSize = errors.New("invalid size")
	// ErrTooLarge is returned when the requested output exceeds MaxPixels.
	ErrTooLarge = errors.New("output exceeds pixel limit")

	errNoRoot = errors.New("document has no svg root element")
)

// Settings is the requested output size in pixels.
type Settings struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// DefaultSettings returns a 100x100 target.
func DefaultSettings() Settings {
	return Settings{Width: DefaultWidth, Height: DefaultHeight}
}

// ParseError reports a document that could not be parsed.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// EncodeError reports a rendered buffer that could not be encoded as PNG.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return e.Err.Error() }
func (e *EncodeError) Unwrap() error { return e.Err }

// Rasterize renders doc into a PNG of exactly s.Width x s.Height pixels.
// The drawing is scaled to the largest size that fits the box while keeping
// the document's aspect ratio and anchored at the top-left corner. A
// document without an intrinsic size takes the requested size.
func Rasterize(doc []byte, s Settings) ([]byte, error) {
	if err := checkRoot(doc); err != nil {
		return nil, &ParseError{Err: err}
	}
	// Unsupported elements such as text are skipped.
	icon, err := oksvg.ReadIconStream(bytes.NewReader(doc), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	if icon.ViewBox.W <= 0 || icon.ViewBox.H <= 0 {
		icon.ViewBox.W, icon.ViewBox.H = float64(s.Width), float64(s.Height)
	}
	natW, natH := naturalSize(icon.ViewBox.W, icon.ViewBox.H)
	fitW, fitH := fitSize(natW, natH, int(s.Width), int(s.Height))

	w, h := int(s.Width), int(s.Height)
	if w == 0 || h == 0 {
		return nil, ErrInvalidSize
	}
	if int64(w)*int64(h) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, w, h)
	}

	sx := float64(fitW) / float64(natW)
	sy := float64(fitH) / float64(natH)
	icon.SetTarget(0, 0, icon.ViewBox.W*sx, icon.ViewBox.H*sy)

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	dasher := rasterx.NewDasher(w, h, scanner)
	icon.Draw(dasher, 1)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, &EncodeError{Err: fmt.Errorf("encode png: %w", err)}
	}
	return buf.Bytes(), nil
}

// checkRoot requires the first element of doc to be svg.
func checkRoot(doc []byte) error {
	d := xml.NewDecoder(bytes.NewReader(doc))
	// Element names are ASCII in every charset oksvg accepts.
	d.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return errNoRoot
		}
		if err != nil {
			return err
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local != "svg" {
				return fmt.Errorf("%w: found %s", errNoRoot, se.Name.Local)
			}
			return nil
		}
	}
}

// naturalSize is the document size in whole pixels. At 96 DPI one user unit
// is one pixel. Sizes are rounded up, never below one pixel and never above
// MaxPixels.
func naturalSize(vw, vh float64) (int, int) {
	return clampSide(vw), clampSide(vh)
}

func clampSide(v float64) int {
	if math.IsNaN(v) {
		return 1
	}
	return int(math.Ceil(math.Min(math.Max(v, 1), MaxPixels)))
}

// fitSize scales (w, h) to fit inside (maxW, maxH) keeping its aspect
// ratio. One side matches the box exactly; the other is rounded up. A
// degenerate box leaves the size unchanged.
func fitSize(w, h, maxW, maxH int) (int, int) {
	if maxW <= 0 || maxH <= 0 {
		return w, h
	}
	byHeight := int(math.Ceil(float64(maxH) * float64(w) / float64(h)))
	if byHeight < maxW {
		return byHeight, maxH
	}
	return maxW, int(math.Ceil(float64(maxW) * float64(h) / float64(w)))
}
