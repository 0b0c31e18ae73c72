// Package convert turns an encoded image into another encoding. A call
// loads the source, fits it to what the target encoder accepts, encodes it
// and reports progress at fixed checkpoints along the way.
package convert

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/convertflow/internal/codec"
	"github.com/dunamismax/convertflow/internal/format"
)

// Progress checkpoints reported by Convert, in order.
const (
	ProgressStarted    = 10
	ProgressLoading    = 35
	ProgressProcessing = 50
	ProgressEncoding   = 70
	ProgressComplete   = 100
)

// ProgressSink receives progress notifications. Errors it returns are
// ignored.
type ProgressSink interface {
	Progress(percent float64, message string) error
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(percent float64, message string) error

func (f ProgressFunc) Progress(percent float64, message string) error {
	return f(percent, message)
}

// Request is one conversion. SourceType and TargetType are MIME-like
// identifiers; an unrecognised SourceType means the format is sniffed and
// an unrecognised TargetType means PNG. Settings is an optional JSON
// payload accepted by ParseSettings.
type Request struct {
	Data       []byte
	SourceType string
	TargetType string
	Settings   json.RawMessage
}

// Logger is the subset of *log.Logger the converter writes to.
type Logger interface {
	Printf(format string, v ...any)
}

// Converter runs conversions with fixed encoder options. The zero value
// uses codec defaults and does not log.
type Converter struct {
	Options codec.Options
	Logger  Logger
}

// Convert runs req with default options.
func Convert(ctx context.Context, req Request, sink ProgressSink) ([]byte, error) {
	var c Converter
	return c.Convert(ctx, req, sink)
}

// Convert loads, normalizes and encodes req.Data. Failures are returned as
// *Error, except a cancelled ctx which returns ctx.Err(). sink may be nil.
func (c *Converter) Convert(ctx context.Context, req Request, sink ProgressSink) ([]byte, error) {
	settings, err := ParseSettings(req.Settings)
	if err != nil {
		return nil, err
	}

	c.report(ctx, sink, ProgressStarted, "Starting conversion")

	var src *format.SourceKind
	if kind, ok := format.Identify(req.SourceType); ok {
		src = &kind
	}
	var target *format.Kind
	if kind, ok := format.TargetKind(req.TargetType); ok {
		target = &kind
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.report(ctx, sink, ProgressLoading, "Loading image")
	img, kind, known, err := Load(req.Data, src, settings)
	if err != nil {
		return nil, err
	}
	c.logf("loaded source=%s sniffed=%t bounds=%v", describeSource(src, kind, known), src == nil, img.Bounds())

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.report(ctx, sink, ProgressProcessing, "Processing image")
	var srcKind *format.Kind
	if known {
		srcKind = &kind
	}
	targetKind := format.PNG
	if target != nil {
		targetKind = *target
	}
	img = Normalize(img, srcKind, targetKind)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.report(ctx, sink, ProgressEncoding, "Converting image")
	out, err := Encode(img, target, c.Options)
	if err != nil {
		return nil, err
	}
	c.logf("encoded target=%s bytes=%d", targetKind, len(out))

	c.report(ctx, sink, ProgressComplete, "Conversion complete")
	return out, nil
}

func (c *Converter) report(ctx context.Context, sink ProgressSink, percent float64, message string) {
	trace.SpanFromContext(ctx).AddEvent("convert.progress", trace.WithAttributes(
		attribute.Float64("progress.percent", percent),
		attribute.String("progress.message", message),
	))
	if sink == nil {
		return
	}
	if err := sink.Progress(percent, message); err != nil {
		c.logf("progress sink failed percent=%v err=%v", percent, err)
	}
}

func (c *Converter) logf(msg string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(msg, args...)
	}
}

func describeSource(src *format.SourceKind, kind format.Kind, known bool) string {
	switch {
	case src != nil && src.IsVector():
		return src.String()
	case known:
		return kind.String()
	default:
		return "unknown"
	}
}
