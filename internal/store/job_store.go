package store

import (
	"context"
	"errors"

	"github.com/dunamismax/convertflow/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

// JobResult is the terminal state of a job. OutputKey is set on success,
// ErrorCode and Error on failure.
type JobResult struct {
	Status    string
	OutputKey string
	ErrorCode string
	Error     string
}

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	UpdateProgress(ctx context.Context, id string, percent float64, message string) error
	SetResult(ctx context.Context, id string, result JobResult) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
