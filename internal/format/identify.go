package format

import "strings"

// SourceKind tags a conversion input as either a raster image with a known
// codec or a vector document.
type SourceKind struct {
	vector bool
	raster Kind
}

// Raster returns a SourceKind for the raster codec k.
func Raster(k Kind) SourceKind {
	return SourceKind{raster: k}
}

// Vector returns the SourceKind for SVG documents.
func Vector() SourceKind {
	return SourceKind{vector: true}
}

// IsVector reports whether s is a vector document.
func (s SourceKind) IsVector() bool {
	return s.vector
}

// RasterKind returns the codec of a raster source. ok is false for vector
// sources.
func (s SourceKind) RasterKind() (Kind, bool) {
	if s.vector {
		return 0, false
	}
	return s.raster, true
}

func (s SourceKind) String() string {
	if s.vector {
		return "svg"
	}
	return s.raster.String()
}

const (
	MIMESVG      = "image/svg+xml"
	MIMEFarbfeld = "image/farbfeld"
)

// mimeKinds is the standard table of MIME identifiers with a conventional
// raster codec mapping.
var mimeKinds = map[string]Kind{
	"image/png":                PNG,
	"image/jpeg":               JPEG,
	"image/jpg":                JPEG,
	"image/gif":                GIF,
	"image/bmp":                BMP,
	"image/x-bmp":              BMP,
	"image/tiff":               TIFF,
	"image/webp":               WebP,
	"image/x-icon":             ICO,
	"image/vnd.microsoft.icon": ICO,
	"image/x-targa":            TGA,
	"image/x-tga":              TGA,
	"image/x-portable-anymap":  PNM,
	"image/x-portable-bitmap":  PNM,
	"image/x-portable-graymap": PNM,
	"image/x-portable-pixmap":  PNM,
	"image/x-qoi":              QOI,
	"image/x-exr":              OpenEXR,
	"image/vnd.radiance":       HDR,
}

// Identify resolves a MIME-like type string to a SourceKind. The standard
// table is consulted first, then the identifiers it does not cover. ok is
// false when nothing matches and the caller should sniff the content.
func Identify(mime string) (SourceKind, bool) {
	if k, ok := RasterKindFromMIME(mime); ok {
		return Raster(k), true
	}
	return identifyCustom(mime)
}

// RasterKindFromMIME resolves mime against the standard table only.
func RasterKindFromMIME(mime string) (Kind, bool) {
	k, ok := mimeKinds[normalizeMIME(mime)]
	return k, ok
}

// TargetKind resolves the target of a conversion. Farbfeld has no standard
// MIME type, so the custom identifier is honored for targets as well.
func TargetKind(mime string) (Kind, bool) {
	src, ok := Identify(mime)
	if !ok {
		return 0, false
	}
	return src.RasterKind()
}

func identifyCustom(mime string) (SourceKind, bool) {
	switch normalizeMIME(mime) {
	case MIMESVG:
		return Vector(), true
	case MIMEFarbfeld:
		return Raster(Farbfeld), true
	default:
		return SourceKind{}, false
	}
}

func normalizeMIME(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}
