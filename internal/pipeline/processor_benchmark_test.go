package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/dunamismax/convertflow/internal/codec"
	"github.com/dunamismax/convertflow/internal/convert"
	"github.com/dunamismax/convertflow/internal/format"
)

func benchmarkConversion(b *testing.B, outputType string) {
	source := buildTestPNG(b, 1920, 1080)
	processor, err := NewProcessor(staticFetcher{data: source}, &convert.Converter{Options: codec.Options{Quality: 82}}, discardEmitter{})
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	req := Request{
		SourceType: SourceTypeLocalFile,
		InputType:  "image/png",
		OutputType: outputType,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-%d", i)
		if _, err := processor.Process(context.Background(), req, nil); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func BenchmarkProcessorPNGToJPEG(b *testing.B) {
	benchmarkConversion(b, "image/jpeg")
}

func BenchmarkProcessorPNGToQOI(b *testing.B) {
	benchmarkConversion(b, "image/x-qoi")
}

func BenchmarkProcessorPNGToIcon(b *testing.B) {
	benchmarkConversion(b, "image/x-icon")
}

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(_ context.Context, _ Request) ([]byte, error) {
	return f.data, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, _ Request, data []byte, kind format.Kind) (Output, error) {
	return Output{Kind: kind, Format: kind.String(), Bytes: len(data)}, nil
}
