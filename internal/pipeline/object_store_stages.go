package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/convertflow/internal/domain"
	"github.com/dunamismax/convertflow/internal/format"
)

const (
	SourceTypeS3Presigned = domain.SourceTypeS3Presigned
)

type objectReader interface {
	ReadObject(ctx context.Context, objectKey string, limit int64) ([]byte, error)
}

type objectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// ObjectStoreFetcher reads sources uploaded through a presigned URL.
// MaxBytes caps the source size; zero means no limit.
type ObjectStoreFetcher struct {
	Storage  objectReader
	MaxBytes int64
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey, f.MaxBytes)
}

type ObjectStoreEmitter struct {
	Storage      objectWriter
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, data []byte, kind format.Kind) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	objectKey := OutputObjectKey(e.OutputPrefix, req.JobID, kind)
	if err := e.Storage.WriteObject(ctx, objectKey, data, kind.MIME()); err != nil {
		return Output{}, err
	}

	return describeOutput(objectKey, data, kind), nil
}

// OutputObjectKey is the object key a job's converted image is written to.
func OutputObjectKey(prefix, jobID string, kind format.Kind) string {
	return path.Join(defaultOutputPrefix(prefix), sanitizePathToken(jobID), OutputName(kind))
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
