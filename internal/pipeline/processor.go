package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/convertflow/internal/convert"
	"github.com/dunamismax/convertflow/internal/format"
)

const SourceTypeLocalFile = "local_file"

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

// Request describes one conversion job. InputType and OutputType are MIME
// types passed through to the converter.
type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	InputType  string
	OutputType string
	Settings   json.RawMessage
}

// Output is where a converted image was written. Width and Height are zero
// when the written format carries no header image.DecodeConfig understands.
type Output struct {
	Kind   format.Kind
	Format string
	Path   string
	Bytes  int
	Width  int
	Height int
}

type Result struct {
	SourceBytes int
	Output      Output
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, data []byte, kind format.Kind) (Output, error)
}

// Converter is the conversion stage. *convert.Converter satisfies it.
type Converter interface {
	Convert(ctx context.Context, req convert.Request, sink convert.ProgressSink) ([]byte, error)
}

type Processor struct {
	fetcher   Fetcher
	converter Converter
	emitter   Emitter
}

func NewProcessor(fetcher Fetcher, converter Converter, emitter Emitter) (*Processor, error) {
	if fetcher == nil || converter == nil || emitter == nil {
		return nil, errors.New("fetcher, converter and emitter are required")
	}
	return &Processor{
		fetcher:   fetcher,
		converter: converter,
		emitter:   emitter,
	}, nil
}

func NewLocalProcessor(outputDir string, converter Converter) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, converter, LocalFileEmitter{OutputDir: outputDir})
}

func NewObjectStoreProcessor(fetcher ObjectStoreFetcher, emitter ObjectStoreEmitter, converter Converter) (*Processor, error) {
	return NewProcessor(fetcher, converter, emitter)
}

// Process fetches the source, converts it and writes the result. Progress
// from the conversion stage is forwarded to sink, which may be nil.
// Conversion failures are returned as *convert.Error wrapped with the stage
// name.
func (p *Processor) Process(ctx context.Context, req Request, sink convert.ProgressSink) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	converted, err := p.converter.Convert(ctx, convert.Request{
		Data:       sourceBytes,
		SourceType: req.InputType,
		TargetType: req.OutputType,
		Settings:   req.Settings,
	}, sink)
	if err != nil {
		return Result{}, fmt.Errorf("convert stage: %w", err)
	}

	written, err := p.emitter.Emit(ctx, req, converted, OutputKind(req.OutputType))
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}

	return Result{SourceBytes: len(sourceBytes), Output: written}, nil
}

// OutputKind is the kind the converter writes for a requested output type.
func OutputKind(outputType string) format.Kind {
	if kind, ok := format.TargetKind(outputType); ok {
		return kind
	}
	return format.PNG
}

// OutputName is the file name used for a job's converted image.
func OutputName(kind format.Kind) string {
	return "output." + kind.Extension()
}

func describeOutput(path string, data []byte, kind format.Kind) Output {
	out := Output{
		Kind:   kind,
		Format: kind.String(),
		Path:   path,
		Bytes:  len(data),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		out.Width, out.Height = cfg.Width, cfg.Height
	}
	return out
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, data []byte, kind format.Kind) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, OutputName(kind))
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return describeOutput(fullPath, data, kind), nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
