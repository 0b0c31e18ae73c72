package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/convertflow/internal/domain"
)

// MemoryJobStore keeps jobs and usage logs in process memory. It implements
// both JobStore and UsageStore.
type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[string]domain.Job
	usage []domain.UsageLog
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) {
		job.Status = status
	})
}

func (s *MemoryJobStore) UpdateProgress(_ context.Context, id string, percent float64, message string) error {
	_, err := s.update(id, func(job *domain.Job) {
		job.Progress = percent
		job.Message = message
	})
	return err
}

func (s *MemoryJobStore) SetResult(_ context.Context, id string, result JobResult) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) {
		job.Status = result.Status
		job.OutputKey = result.OutputKey
		job.ErrorCode = result.ErrorCode
		job.Error = result.Error
	})
}

func (s *MemoryJobStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usage)
	return nil
}

// UsageLogs returns a copy of the recorded usage logs.
func (s *MemoryJobStore) UsageLogs() []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.UsageLog(nil), s.usage...)
}

func (s *MemoryJobStore) update(id string, apply func(*domain.Job)) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	apply(&job)
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}
