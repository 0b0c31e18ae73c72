package format

import "strings"

// Kind identifies a raster codec. It is used both for what was decoded and
// for what must be encoded.
type Kind int

const (
	PNG Kind = iota
	JPEG
	GIF
	BMP
	TIFF
	WebP
	ICO
	TGA
	PNM
	QOI
	Farbfeld
	OpenEXR
	HDR

	// KindCount is the number of raster kinds. Tables indexed by Kind are
	// sized with it.
	KindCount
)

type kindInfo struct {
	name      string
	mime      string
	extension string
}

var kinds = [KindCount]kindInfo{
	PNG:      {name: "png", mime: "image/png", extension: "png"},
	JPEG:     {name: "jpeg", mime: "image/jpeg", extension: "jpeg"},
	GIF:      {name: "gif", mime: "image/gif", extension: "gif"},
	BMP:      {name: "bmp", mime: "image/bmp", extension: "bmp"},
	TIFF:     {name: "tiff", mime: "image/tiff", extension: "tiff"},
	WebP:     {name: "webp", mime: "image/webp", extension: "webp"},
	ICO:      {name: "ico", mime: "image/x-icon", extension: "ico"},
	TGA:      {name: "tga", mime: "image/x-targa", extension: "tga"},
	PNM:      {name: "pnm", mime: "image/x-portable-anymap", extension: "pnm"},
	QOI:      {name: "qoi", mime: "image/x-qoi", extension: "qoi"},
	Farbfeld: {name: "farbfeld", mime: "image/farbfeld", extension: "ff"},
	OpenEXR:  {name: "exr", mime: "image/x-exr", extension: "exr"},
	HDR:      {name: "hdr", mime: "image/vnd.radiance", extension: "hdr"},
}

// AllKinds returns every raster kind in declaration order.
func AllKinds() []Kind {
	out := make([]Kind, 0, KindCount)
	for k := Kind(0); k < KindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k >= 0 && k < KindCount
}

func (k Kind) String() string {
	if !k.Valid() {
		return "unknown"
	}
	return kinds[k].name
}

// MIME returns the canonical MIME type used when serving k.
func (k Kind) MIME() string {
	if !k.Valid() {
		return "application/octet-stream"
	}
	return kinds[k].mime
}

// Extension returns the file extension for k without the leading dot.
func (k Kind) Extension() string {
	if !k.Valid() {
		return "bin"
	}
	return kinds[k].extension
}

// KindFromName maps a codec name, as reported by image.Decode, to a Kind.
func KindFromName(name string) (Kind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "jpg":
		return JPEG, true
	case "tif":
		return TIFF, true
	case "pbm", "pgm", "ppm", "pam":
		return PNM, true
	}
	for k := Kind(0); k < KindCount; k++ {
		if kinds[k].name == name {
			return k, true
		}
	}
	return 0, false
}

// KindFromExtension maps a file extension (with or without dot) to a Kind.
func KindFromExtension(ext string) (Kind, bool) {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	switch ext {
	case "jpg", "jpe":
		return JPEG, true
	case "tif":
		return TIFF, true
	case "icon":
		return ICO, true
	case "targa", "icb", "vda", "vst":
		return TGA, true
	case "pbm", "pgm", "ppm", "pam":
		return PNM, true
	case "farbfeld":
		return Farbfeld, true
	}
	for k := Kind(0); k < KindCount; k++ {
		if kinds[k].extension == ext {
			return k, true
		}
	}
	return 0, false
}
