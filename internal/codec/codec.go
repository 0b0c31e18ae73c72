// Package codec decodes and encodes raster images for every format.Kind.
//
// Standard formats go through image/png, image/jpeg, image/gif and
// golang.org/x/image. WebP export goes through libvips when built with the
// govips tag and through libwebp otherwise; both need cgo. The remaining
// container formats (ICO, TGA, PNM, QOI, Farbfeld, OpenEXR, Radiance HDR)
// are implemented here and registered with the image package so content
// sniffing recognises them.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/dunamismax/convertflow/internal/format"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

const (
	DefaultJPEGQuality = 80
	DefaultWebPQuality = 80

	// maxPixels bounds width*height for formats whose headers are parsed
	// here, so a forged header cannot trigger a huge allocation.
	maxPixels = 1 << 26
)

var (
	ErrUnsupportedKind = errors.New("unsupported image format")
	ErrInvalidSize     = errors.New("invalid image dimensions")
)

// Options carries encoder parameters. Zero values select defaults.
type Options struct {
	Quality int
}

type decodeFunc func(r io.Reader) (image.Image, error)

type encodeFunc func(w io.Writer, img image.Image, opts Options) error

type configFunc func(r io.Reader) (image.Config, error)

// configs reads the header of kinds whose decoders allocate before checking
// dimensions. The formats implemented in this package check their own
// headers.
var configs = [format.KindCount]configFunc{
	format.PNG:  png.DecodeConfig,
	format.JPEG: jpeg.DecodeConfig,
	format.GIF:  gif.DecodeConfig,
	format.BMP:  bmp.DecodeConfig,
	format.TIFF: tiff.DecodeConfig,
	format.WebP: webp.DecodeConfig,
}

type signature struct {
	kind  format.Kind
	magic string
}

// signatures lists leading bytes per kind. WebP is matched separately and
// TGA has no signature.
var signatures = []signature{
	{format.PNG, pngSignature},
	{format.JPEG, "\xff\xd8"},
	{format.GIF, "GIF8"},
	{format.BMP, "BM"},
	{format.TIFF, "II*\x00"},
	{format.TIFF, "MM\x00*"},
	{format.ICO, icoMagic},
	{format.PNM, "P1"}, {format.PNM, "P2"}, {format.PNM, "P3"},
	{format.PNM, "P4"}, {format.PNM, "P5"}, {format.PNM, "P6"},
	{format.QOI, qoiMagic},
	{format.Farbfeld, farbfeldMagic},
	{format.OpenEXR, exrMagic},
	{format.HDR, hdrMagic},
	{format.HDR, hdrMagicShort},
}

var decoders = [format.KindCount]decodeFunc{
	format.PNG:      png.Decode,
	format.JPEG:     jpeg.Decode,
	format.GIF:      gif.Decode,
	format.BMP:      bmp.Decode,
	format.TIFF:     tiff.Decode,
	format.WebP:     webp.Decode,
	format.ICO:      decodeICO,
	format.TGA:      decodeTGA,
	format.PNM:      decodePNM,
	format.QOI:      decodeQOI,
	format.Farbfeld: decodeFarbfeld,
	format.OpenEXR:  decodeEXR,
	format.HDR:      decodeHDR,
}

var encoders = [format.KindCount]encodeFunc{
	format.PNG:      encodePNG,
	format.JPEG:     encodeJPEG,
	format.GIF:      encodeGIF,
	format.BMP:      encodeBMP,
	format.TIFF:     encodeTIFF,
	format.WebP:     encodeWebP,
	format.ICO:      encodeICO,
	format.TGA:      encodeTGA,
	format.PNM:      encodePNM,
	format.QOI:      encodeQOI,
	format.Farbfeld: encodeFarbfeld,
	format.OpenEXR:  encodeEXR,
	format.HDR:      encodeHDR,
}

// Decode decodes data as the given kind.
func Decode(kind format.Kind, data []byte) (image.Image, error) {
	if !kind.Valid() || decoders[kind] == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	if config := configs[kind]; config != nil {
		cfg, err := config(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		if err := checkSize(cfg.Width, cfg.Height); err != nil {
			return nil, err
		}
	}
	img, err := decoders[kind](bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := checkBounds(img.Bounds()); err != nil {
		return nil, err
	}
	return img, nil
}

// Detect reports the kind whose signature prefixes data.
func Detect(data []byte) (format.Kind, bool) {
	if len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return format.WebP, true
	}
	for _, sig := range signatures {
		if bytes.HasPrefix(data, []byte(sig.magic)) {
			return sig.kind, true
		}
	}
	return 0, false
}

// Sniff infers the format of data from its leading bytes and decodes it.
func Sniff(data []byte) (image.Image, format.Kind, error) {
	kind, ok := Detect(data)
	if !ok {
		return nil, 0, image.ErrFormat
	}
	img, err := Decode(kind, data)
	if err != nil {
		return nil, 0, err
	}
	return img, kind, nil
}

// Encode writes img to w as the given kind. Callers must discard whatever
// was written to w when an error is returned.
func Encode(w io.Writer, img image.Image, kind format.Kind, opts Options) error {
	if !kind.Valid() || encoders[kind] == nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	if err := checkBounds(img.Bounds()); err != nil {
		return err
	}
	return encoders[kind](w, img, opts)
}

func encodePNG(w io.Writer, img image.Image, _ Options) error {
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

func encodeJPEG(w io.Writer, img image.Image, opts Options) error {
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return nil
}

func webpQuality(opts Options) int {
	if opts.Quality <= 0 || opts.Quality > 100 {
		return DefaultWebPQuality
	}
	return opts.Quality
}

func encodeGIF(w io.Writer, img image.Image, _ Options) error {
	if err := gif.Encode(w, img, nil); err != nil {
		return fmt.Errorf("encode gif: %w", err)
	}
	return nil
}

func encodeBMP(w io.Writer, img image.Image, _ Options) error {
	if err := bmp.Encode(w, img); err != nil {
		return fmt.Errorf("encode bmp: %w", err)
	}
	return nil
}

func encodeTIFF(w io.Writer, img image.Image, _ Options) error {
	if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		return fmt.Errorf("encode tiff: %w", err)
	}
	return nil
}

func checkBounds(b image.Rectangle) error {
	return checkSize(b.Dx(), b.Dy())
}

func checkSize(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, w, h)
	}
	if int64(w)*int64(h) > maxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidSize, w, h, maxPixels)
	}
	return nil
}
