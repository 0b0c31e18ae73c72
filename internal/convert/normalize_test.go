package convert

import (
	"image"
	"image/color"
	"testing"

	"github.com/dunamismax/convertflow/internal/format"
	"github.com/dunamismax/convertflow/internal/raster"
)

func kindPtr(k format.Kind) *format.Kind { return &k }

func normalizeInputs() map[string]image.Image {
	rect := image.Rect(0, 0, 5, 3)
	nrgba64 := image.NewNRGBA64(rect)
	nrgba64.SetNRGBA64(1, 1, color.NRGBA64{R: 0xffff, A: 0x8000})
	float := raster.NewRGBA32F(rect)
	float.SetFloat(2, 2, raster.Float{R: 4, G: 0.5, B: -1, A: 1})
	return map[string]image.Image{
		"nrgba":   image.NewNRGBA(rect),
		"nrgba64": nrgba64,
		"gray":    image.NewGray(rect),
		"gray16":  image.NewGray16(rect),
		"rgba32f": float,
		"rgb":     raster.NewRGB(rect),
	}
}

func TestEveryKindHasTargetRule(t *testing.T) {
	for _, kind := range format.AllKinds() {
		if targetRules[kind] == nil {
			t.Fatalf("no normalization rule for %s", kind)
		}
	}
}

func TestNormalizeAlphaIncapableTargets(t *testing.T) {
	want := raster.Format{Layout: raster.LayoutRGB, Precision: raster.Uint8}
	for _, target := range []format.Kind{format.JPEG, format.QOI, format.Farbfeld, format.PNM, format.TGA} {
		for name, img := range normalizeInputs() {
			got := raster.Describe(Normalize(img, kindPtr(format.PNG), target))
			if got != want {
				t.Fatalf("%s from %s: expected %s, got %s", target, name, want, got)
			}
		}
	}
}

func TestNormalizeIconIsAlwaysSquare(t *testing.T) {
	for _, size := range []image.Point{{1, 1}, {300, 40}, {256, 256}, {17, 900}} {
		img := image.NewNRGBA(image.Rect(0, 0, size.X, size.Y))
		out := Normalize(img, nil, format.ICO)
		if out.Bounds().Dx() != IconSize || out.Bounds().Dy() != IconSize {
			t.Fatalf("%v: expected %dx%d, got %v", size, IconSize, IconSize, out.Bounds())
		}
	}
}

func TestNormalizeHDRSourceIsEightBitRGBA(t *testing.T) {
	want := raster.Format{Layout: raster.LayoutRGBA, Precision: raster.Uint8}
	src := raster.NewRGB32F(image.Rect(0, 0, 4, 2))
	src.SetFloat(0, 0, raster.Float{R: 12, G: 0.25, B: 0, A: 1})

	for _, target := range []format.Kind{format.PNG, format.GIF, format.BMP, format.TIFF, format.WebP, format.HDR} {
		got := raster.Describe(Normalize(src, kindPtr(format.HDR), target))
		if got != want {
			t.Fatalf("hdr -> %s: expected %s, got %s", target, want, got)
		}
	}
}

func TestNormalizeEXRTargetIsFloat(t *testing.T) {
	want := raster.Format{Layout: raster.LayoutRGBA, Precision: raster.Float32}
	for name, img := range normalizeInputs() {
		got := raster.Describe(Normalize(img, nil, format.OpenEXR))
		if got != want {
			t.Fatalf("exr from %s: expected %s, got %s", name, want, got)
		}
	}
}

func TestNormalizeKeepsIdentityTargets(t *testing.T) {
	img := image.NewNRGBA64(image.Rect(0, 0, 3, 3))
	for _, target := range []format.Kind{format.PNG, format.TIFF, format.Kind(200)} {
		if out := Normalize(img, kindPtr(format.PNG), target); out != image.Image(img) {
			t.Fatalf("%s: expected image passed through, got %T", target, out)
		}
	}
}

func TestNormalizeClampsFloatForEightBitTargets(t *testing.T) {
	src := raster.NewRGBA32F(image.Rect(0, 0, 1, 1))
	src.SetFloat(0, 0, raster.Float{R: 7, G: -3, B: 0.5, A: 1})

	out := Normalize(src, kindPtr(format.OpenEXR), format.JPEG)
	r, g, _, _ := out.At(0, 0).RGBA()
	if r>>8 != 0xff || g>>8 != 0 {
		t.Fatalf("expected clamped channels, got r=%d g=%d", r>>8, g>>8)
	}
}
