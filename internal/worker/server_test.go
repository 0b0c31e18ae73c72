package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/convertflow/internal/convert"
	"github.com/dunamismax/convertflow/internal/domain"
	"github.com/dunamismax/convertflow/internal/pipeline"
	"github.com/dunamismax/convertflow/internal/queue"
	"github.com/dunamismax/convertflow/internal/store"
	"github.com/dunamismax/convertflow/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
)

func TestHandleConvertImageSucceeds(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	hooks := &captureWebhooks{}
	s := newTestServer(t, jobStore, hooks)

	inputPath := writeTestPNG(t, 16, 8)
	seedJob(t, jobStore, "job-1", inputPath)

	task := newTask(t, queue.ConvertImagePayload{
		JobID:      "job-1",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  inputPath,
		InputType:  "image/png",
		OutputType: "image/x-qoi",
		WebhookURL: "https://hooks.example/convert",
	})
	if err := s.handleConvertImage(context.Background(), task); err != nil {
		t.Fatalf("handle task: %v", err)
	}

	job, _, _ := jobStore.Get(context.Background(), "job-1")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded status, got %s", job.Status)
	}
	if job.Progress != convert.ProgressComplete || job.Message != "Conversion complete" {
		t.Fatalf("expected final progress, got %v %q", job.Progress, job.Message)
	}
	if filepath.Base(job.OutputKey) != "output.qoi" {
		t.Fatalf("unexpected output key %q", job.OutputKey)
	}
	if _, err := os.Stat(job.OutputKey); err != nil {
		t.Fatalf("expected output file: %v", err)
	}

	events := hooks.events()
	if len(events) != 6 {
		t.Fatalf("expected 5 progress events and a completion, got %v", events)
	}
	for _, event := range events[:5] {
		if event != webhook.EventJobProgress {
			t.Fatalf("expected progress events first, got %v", events)
		}
	}
	if events[5] != webhook.EventJobCompleted {
		t.Fatalf("expected completion event last, got %v", events)
	}

	logs := jobStore.UsageLogs()
	if len(logs) != 1 || logs[0].PixelsProcessed != 16*8 || logs[0].OutputType != "image/x-qoi" {
		t.Fatalf("unexpected usage logs %+v", logs)
	}
	if got := testutil.ToFloat64(s.metrics.jobsTotal.WithLabelValues("qoi", domain.JobStatusSucceeded)); got != 1 {
		t.Fatalf("expected one succeeded qoi job, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.progressEvents); got != 5 {
		t.Fatalf("expected 5 progress events, got %v", got)
	}
}

func TestHandleConvertImageConversionErrorSkipsRetry(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	hooks := &captureWebhooks{}
	s := newTestServer(t, jobStore, hooks)

	inputPath := filepath.Join(t.TempDir(), "garbage.bin")
	if err := os.WriteFile(inputPath, []byte("no image here"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	seedJob(t, jobStore, "job-2", inputPath)

	err := s.handleConvertImage(context.Background(), newTask(t, queue.ConvertImagePayload{
		JobID:      "job-2",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  inputPath,
		WebhookURL: "https://hooks.example/convert",
	}))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	job, _, _ := jobStore.Get(context.Background(), "job-2")
	if job.Status != domain.JobStatusFailed || job.ErrorCode != string(convert.CodeUnknownSourceType) {
		t.Fatalf("unexpected job state %+v", job)
	}
	if !strings.HasPrefix(job.Error, "Unknown file type: ") {
		t.Fatalf("expected user-facing message, got %q", job.Error)
	}
	events := hooks.events()
	if len(events) == 0 || events[len(events)-1] != webhook.EventJobFailed {
		t.Fatalf("expected job.failed webhook, got %v", events)
	}
	if got := testutil.ToFloat64(s.metrics.conversionFailures.WithLabelValues(string(convert.CodeUnknownSourceType))); got != 1 {
		t.Fatalf("expected one failure counted, got %v", got)
	}
}

func TestHandleConvertImageRejectsBadPayload(t *testing.T) {
	s := newTestServer(t, store.NewMemoryJobStore(), nil)
	err := s.handleConvertImage(context.Background(), asynq.NewTask(queue.TypeConvertImage, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for malformed payload, got %v", err)
	}
}

func TestHandleConvertImageWithoutStorageFails(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	s := newTestServer(t, jobStore, nil)
	seedJob(t, jobStore, "job-3", "uploads/job-3/source")

	err := s.handleConvertImage(context.Background(), newTask(t, queue.ConvertImagePayload{
		JobID:      "job-3",
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-3/source",
	}))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected a retryable error, got %v", err)
	}

	job, _, _ := jobStore.Get(context.Background(), "job-3")
	if job.Status != domain.JobStatusFailed || job.ErrorCode != codeInternal {
		t.Fatalf("expected final attempt to mark the job failed, got %+v", job)
	}
}

func TestProgressSinkToleratesMissingJob(t *testing.T) {
	s := newTestServer(t, store.NewMemoryJobStore(), nil)
	inputPath := writeTestPNG(t, 4, 4)

	err := s.handleConvertImage(context.Background(), newTask(t, queue.ConvertImagePayload{
		JobID:      "job-unknown",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  inputPath,
		OutputType: "image/gif",
	}))
	if err != nil {
		t.Fatalf("expected progress store errors to be ignored, got %v", err)
	}
}

func TestRecordUsageWritesUsageLog(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	if err := jobStore.Create(context.Background(), domain.Job{
		ID:         "job-1",
		UserID:     "user-1",
		Status:     domain.JobStatusProcessing,
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  "input.png",
		OutputType: "image/webp",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), "job-1", pipeline.Result{
		SourceBytes: 1_000,
		Output:      pipeline.Output{Width: 20, Height: 25, Bytes: 300},
	}, 250*time.Millisecond)

	if !usageStore.called {
		t.Fatal("expected usage log to be written")
	}
	if usageStore.log.UserID != "user-1" {
		t.Fatalf("expected user_id=user-1, got %s", usageStore.log.UserID)
	}
	if usageStore.log.PixelsProcessed != 500 {
		t.Fatalf("expected pixels_processed=500, got %d", usageStore.log.PixelsProcessed)
	}
	if usageStore.log.InputBytes != 1_000 || usageStore.log.OutputBytes != 300 {
		t.Fatalf("unexpected byte counts in %+v", usageStore.log)
	}
	if usageStore.log.ComputeTimeMS != 250 {
		t.Fatalf("expected compute_time_ms=250, got %d", usageStore.log.ComputeTimeMS)
	}
}

func TestRecordUsageClampsComputeTime(t *testing.T) {
	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), "job-2", pipeline.Result{
		SourceBytes: 100,
		Output:      pipeline.Output{Width: 5, Height: 5, Bytes: 200},
	}, 0)

	if usageStore.log.UserID != "anonymous" {
		t.Fatalf("expected anonymous user, got %q", usageStore.log.UserID)
	}
	if usageStore.log.ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms to be at least 1, got %d", usageStore.log.ComputeTimeMS)
	}
}

func newTestServer(t *testing.T, jobStore *store.MemoryJobStore, hooks webhookSender) *Server {
	t.Helper()

	local, err := pipeline.NewLocalProcessor(t.TempDir(), &convert.Converter{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}
	return &Server{
		logger:         log.New(io.Discard, "", 0),
		sem:            make(chan struct{}, 1),
		localProcessor: local,
		webhookClient:  hooks,
		jobStore:       jobStore,
		usageStore:     jobStore,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("convertflow/worker-test"),
	}
}

func seedJob(t *testing.T, jobStore *store.MemoryJobStore, jobID, objectKey string) {
	t.Helper()
	now := time.Now().UTC()
	if err := jobStore.Create(context.Background(), domain.Job{
		ID:        jobID,
		Status:    domain.JobStatusQueued,
		ObjectKey: objectKey,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func newTask(t *testing.T, payload queue.ConvertImagePayload) *asynq.Task {
	t.Helper()
	payload.RequestedAt = time.Now().UTC()
	task, err := queue.NewConvertImageTask(payload)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func writeTestPNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	path := filepath.Join(t.TempDir(), "input.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
	return path
}

type captureWebhooks struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureWebhooks) Send(_ context.Context, _, event string, payload any) error {
	return c.record(event, payload)
}

func (c *captureWebhooks) Notify(_ context.Context, _, event string, payload any) error {
	return c.record(event, payload)
}

func (c *captureWebhooks) record(event string, payload any) error {
	if _, err := json.Marshal(payload); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, event)
	return nil
}

func (c *captureWebhooks) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type captureUsageStore struct {
	called bool
	log    domain.UsageLog
}

func (s *captureUsageStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.called = true
	s.log = usage
	return nil
}
