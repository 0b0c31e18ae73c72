package svg

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
)

const wideDoc = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 20 10">
  <rect x="0" y="0" width="20" height="10" fill="#ff0000"/>
</svg>`

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	return img
}

func TestRasterizeUsesRequestedDimensions(t *testing.T) {
	sizes := []Settings{DefaultSettings(), {Width: 64, Height: 17}, {Width: 1, Height: 300}}
	for _, s := range sizes {
		data, err := Rasterize([]byte(wideDoc), s)
		if err != nil {
			t.Fatalf("rasterize %dx%d: %v", s.Width, s.Height, err)
		}
		b := decode(t, data).Bounds()
		if b.Dx() != int(s.Width) || b.Dy() != int(s.Height) {
			t.Fatalf("expected %dx%d, got %v", s.Width, s.Height, b)
		}
	}
}

func TestRasterizeKeepsAspectRatio(t *testing.T) {
	data, err := Rasterize([]byte(wideDoc), Settings{Width: 40, Height: 40})
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	img := decode(t, data)

	inside := color.NRGBAModel.Convert(img.At(20, 10)).(color.NRGBA)
	if inside.R != 255 || inside.A != 255 {
		t.Fatalf("expected opaque red inside the fitted area, got %+v", inside)
	}
	below := color.NRGBAModel.Convert(img.At(20, 30)).(color.NRGBA)
	if below.A != 0 {
		t.Fatalf("expected transparent padding below the drawing, got %+v", below)
	}
}

func TestRasterizeUnsizedDocumentFillsRequest(t *testing.T) {
	doc := `<svg xmlns="http://www.w3.org/2000/svg"><rect width="10" height="10" fill="#0000ff"/></svg>`
	data, err := Rasterize([]byte(doc), Settings{Width: 30, Height: 20})
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	img := decode(t, data)
	if c := color.NRGBAModel.Convert(img.At(5, 5)).(color.NRGBA); c.B != 255 || c.A != 255 {
		t.Fatalf("expected blue at (5,5), got %+v", c)
	}
	if c := color.NRGBAModel.Convert(img.At(20, 15)).(color.NRGBA); c.A != 0 {
		t.Fatalf("expected transparent at (20,15), got %+v", c)
	}
}

func TestRasterizeZeroDimension(t *testing.T) {
	for _, s := range []Settings{{Width: 0, Height: 10}, {Width: 10, Height: 0}} {
		_, err := Rasterize([]byte(wideDoc), s)
		if !errors.Is(err, ErrInvalidSize) {
			t.Fatalf("%dx%d: expected ErrInvalidSize, got %v", s.Width, s.Height, err)
		}
	}
}

func TestRasterizeMalformedDocument(t *testing.T) {
	_, err := Rasterize([]byte(`<svg xmlns="http://www.w3.org/2000/svg"><rect`), DefaultSettings())
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestRasterizeRejectsNonSVG(t *testing.T) {
	for _, doc := range []string{"", "hello", `<html><body/></html>`, `<?xml version="1.0"?>`} {
		_, err := Rasterize([]byte(doc), DefaultSettings())
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Fatalf("%q: expected ParseError, got %v", doc, err)
		}
	}
}

func TestRasterizeSkipsUnsupportedElements(t *testing.T) {
	doc := `<svg viewBox="0 0 20 10"><text x="1" y="5">Hi</text><rect width="5" height="5"/></svg>`
	data, err := Rasterize([]byte(doc), Settings{Width: 20, Height: 10})
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	img := decode(t, data)
	if _, _, _, a := img.At(2, 2).RGBA(); a == 0 {
		t.Fatal("expected rect to be drawn")
	}
}

func TestRasterizeHugeViewBox(t *testing.T) {
	doc := `<svg viewBox="0 0 1e30 1e30"><rect width="1" height="1"/></svg>`
	data, err := Rasterize([]byte(doc), Settings{Width: 8, Height: 8})
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	if b := decode(t, data).Bounds(); b.Dx() != 8 || b.Dy() != 8 {
		t.Fatalf("expected 8x8, got %v", b)
	}
}

func TestRasterizeTooLarge(t *testing.T) {
	_, err := Rasterize([]byte(wideDoc), Settings{Width: 1 << 14, Height: 1 << 13})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if errors.Is(err, ErrInvalidSize) {
		t.Fatal("too large must be distinct from invalid size")
	}
}

func TestNaturalSizeClamps(t *testing.T) {
	tests := []struct {
		vw, vh float64
		w, h   int
	}{
		{vw: 20, vh: 10, w: 20, h: 10},
		{vw: 0.2, vh: 10.1, w: 1, h: 11},
		{vw: 1e30, vh: 3, w: MaxPixels, h: 3},
		{vw: math.Inf(1), vh: math.NaN(), w: MaxPixels, h: 1},
	}
	for _, tt := range tests {
		w, h := naturalSize(tt.vw, tt.vh)
		if w != tt.w || h != tt.h {
			t.Fatalf("naturalSize(%g, %g) = %d, %d; want %d, %d", tt.vw, tt.vh, w, h, tt.w, tt.h)
		}
	}
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		w, h, maxW, maxH int
		wantW, wantH     int
	}{
		{50, 25, 100, 100, 100, 50},
		{25, 50, 100, 100, 50, 100},
		{10, 10, 30, 20, 20, 20},
		{3, 1, 10, 10, 10, 4},
		{10, 10, 0, 5, 10, 10},
	}
	for _, tc := range tests {
		gotW, gotH := fitSize(tc.w, tc.h, tc.maxW, tc.maxH)
		if gotW != tc.wantW || gotH != tc.wantH {
			t.Fatalf("fitSize(%d,%d,%d,%d) = %d,%d, want %d,%d",
				tc.w, tc.h, tc.maxW, tc.maxH, gotW, gotH, tc.wantW, tc.wantH)
		}
	}
}
