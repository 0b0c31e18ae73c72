package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/convertflow/internal/convert"
	"github.com/dunamismax/convertflow/internal/format"
)

func TestLocalProcessor_FileInConvertFileOut(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	outputDir := filepath.Join(tmp, "out")

	srcBytes := buildTestPNG(t, 240, 120)
	if err := os.WriteFile(inputPath, srcBytes, 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	processor, err := NewLocalProcessor(outputDir, &convert.Converter{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	var checkpoints []float64
	sink := convert.ProgressFunc(func(percent float64, _ string) error {
		checkpoints = append(checkpoints, percent)
		return nil
	})

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-local-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		InputType:  "image/png",
		OutputType: "image/jpeg",
	}, sink)
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	out := result.Output
	if out.Kind != format.JPEG || filepath.Base(out.Path) != "output.jpeg" {
		t.Fatalf("unexpected output %+v", out)
	}
	if out.Width != 240 || out.Height != 120 {
		t.Fatalf("expected 240x120 output, got %dx%d", out.Width, out.Height)
	}
	if result.SourceBytes != len(srcBytes) {
		t.Fatalf("expected source bytes %d, got %d", len(srcBytes), result.SourceBytes)
	}
	verifyImageSize(t, out.Path, 240, 120)

	if len(checkpoints) != 5 || checkpoints[4] != convert.ProgressComplete {
		t.Fatalf("expected five forwarded checkpoints, got %v", checkpoints)
	}
}

func TestLocalProcessor_SVGToIcon(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "logo.svg")
	svg := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10"><circle cx="5" cy="5" r="4" fill="#336699"/></svg>`
	if err := os.WriteFile(inputPath, []byte(svg), 0o644); err != nil {
		t.Fatalf("write input svg: %v", err)
	}

	processor, err := NewLocalProcessor(filepath.Join(tmp, "out"), &convert.Converter{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-svg",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		InputType:  "image/svg+xml",
		OutputType: "image/x-icon",
		Settings:   json.RawMessage(`{"type":"svg","width":48,"height":48}`),
	}, nil)
	if err != nil {
		t.Fatalf("process request: %v", err)
	}
	if result.Output.Width != 256 || result.Output.Height != 256 {
		t.Fatalf("expected 256x256 icon, got %dx%d", result.Output.Width, result.Output.Height)
	}
}

func TestLocalProcessor_ConversionErrorKeepsCode(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.bin")
	if err := os.WriteFile(inputPath, []byte("definitely not an image"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	processor, err := NewLocalProcessor(filepath.Join(tmp, "out"), &convert.Converter{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-garbage",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
	}, nil)
	if !convert.Is(err, convert.CodeUnknownSourceType) {
		t.Fatalf("expected unknown source type error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(tmp, "out", "job-garbage")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected no output to be written, stat err=%v", statErr)
	}
}

func TestLocalProcessor_UnsupportedSourceType(t *testing.T) {
	processor, err := NewLocalProcessor(t.TempDir(), &convert.Converter{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-unsupported",
		SourceType: "s3_presigned",
		ObjectKey:  "uploads/job/source",
	}, nil)
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected unsupported source_type error, got %v", err)
	}
}

func TestObjectStoreProcessor(t *testing.T) {
	objects := &memoryObjects{data: map[string][]byte{
		"uploads/job-7/source": buildTestPNG(t, 30, 20),
	}}
	processor, err := NewObjectStoreProcessor(
		ObjectStoreFetcher{Storage: objects},
		ObjectStoreEmitter{Storage: objects},
		&convert.Converter{},
	)
	if err != nil {
		t.Fatalf("new object store processor: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-7",
		SourceType: SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-7/source",
		OutputType: "image/bmp",
	}, nil)
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	if result.Output.Path != "outputs/job-7/output.bmp" {
		t.Fatalf("unexpected object key %q", result.Output.Path)
	}
	if objects.types[result.Output.Path] != "image/bmp" {
		t.Fatalf("expected image/bmp content type, got %q", objects.types[result.Output.Path])
	}
	if len(objects.data[result.Output.Path]) != result.Output.Bytes {
		t.Fatalf("stored %d bytes, reported %d", len(objects.data[result.Output.Path]), result.Output.Bytes)
	}
}

func TestObjectStoreFetcherHonorsLimit(t *testing.T) {
	objects := &memoryObjects{data: map[string][]byte{"big": make([]byte, 64)}}
	fetcher := ObjectStoreFetcher{Storage: objects, MaxBytes: 16}
	if _, err := fetcher.Fetch(context.Background(), Request{SourceType: SourceTypeS3Presigned, ObjectKey: "big"}); !errors.Is(err, errTooLarge) {
		t.Fatalf("expected size limit error, got %v", err)
	}
}

func TestOutputKindDefaultsToPNG(t *testing.T) {
	if OutputKind("") != format.PNG || OutputKind("image/nope") != format.PNG {
		t.Fatal("expected unknown output types to map to png")
	}
	if OutputKind("image/x-exr") != format.OpenEXR {
		t.Fatal("expected exr output kind")
	}
	if got := OutputObjectKey("", "../job", format.WebP); got != "outputs/___job/output.webp" {
		t.Fatalf("unexpected object key %q", got)
	}
}

var errTooLarge = errors.New("too large")

type memoryObjects struct {
	data  map[string][]byte
	types map[string]string
}

func (m *memoryObjects) ReadObject(_ context.Context, key string, limit int64) ([]byte, error) {
	data, ok := m.data[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, errTooLarge
	}
	return data, nil
}

func (m *memoryObjects) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	if m.types == nil {
		m.types = make(map[string]string)
	}
	m.data[key] = data
	m.types[key] = contentType
	return nil
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func verifyImageSize(t *testing.T, path string, wantW, wantH int) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open image %s: %v", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("decode image %s: %v", path, err)
	}

	if b := img.Bounds(); b.Dx() != wantW || b.Dy() != wantH {
		t.Fatalf("expected %dx%d, got %v", wantW, wantH, b)
	}
}
