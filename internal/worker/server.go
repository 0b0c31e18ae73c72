package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/convertflow/internal/config"
	"github.com/dunamismax/convertflow/internal/convert"
	"github.com/dunamismax/convertflow/internal/domain"
	"github.com/dunamismax/convertflow/internal/pipeline"
	"github.com/dunamismax/convertflow/internal/queue"
	"github.com/dunamismax/convertflow/internal/storage"
	"github.com/dunamismax/convertflow/internal/store"
	"github.com/dunamismax/convertflow/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Failure codes for errors raised outside the conversion itself.
const (
	codeInternal          = "INTERNAL"
	codeUnsupportedSource = "UNSUPPORTED_SOURCE"
	codeSourceNotFound    = "SOURCE_NOT_FOUND"
	codeSourceTooLarge    = "SOURCE_TOO_LARGE"
)

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
	Notify(ctx context.Context, endpoint, event string, payload any) error
}

// NewServer builds the asynq worker. storageClient may be nil, in which case
// only local_file jobs can run.
func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	converter *convert.Converter,
	maxInputBytes int64,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if converter == nil {
		return nil, fmt.Errorf("converter is required")
	}

	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, converter)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}

	var objectProcessor *pipeline.Processor
	if storageClient != nil {
		objectProcessor, err = pipeline.NewObjectStoreProcessor(
			pipeline.ObjectStoreFetcher{Storage: storageClient, MaxBytes: maxInputBytes},
			pipeline.ObjectStoreEmitter{Storage: storageClient, OutputPrefix: "outputs"},
			converter,
		)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		jobStore:        jobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("convertflow/worker"),
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeConvertImage, s.handleConvertImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleConvertImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseConvertImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	outputLabel := pipeline.OutputKind(payload.OutputType).String()

	ctx, span := s.tracer.Start(ctx, "worker.convert_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.input_type", payload.InputType),
		attribute.String("job.output_type", outputLabel),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outputLabel, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outputLabel, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s input_type=%s output_type=%s object_key=%s",
		payload.JobID,
		payload.SourceType,
		payload.InputType,
		outputLabel,
		payload.ObjectKey,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	processor, err := s.processorFor(payload.SourceType)
	if err != nil {
		return s.fail(ctx, span, payload, err)
	}

	result, err := processor.Process(ctx, pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		InputType:  payload.InputType,
		OutputType: payload.OutputType,
		Settings:   payload.Settings,
	}, s.progressSink(ctx, payload))
	if err != nil {
		return s.fail(ctx, span, payload, err)
	}

	s.logger.Printf("Converted job_id=%s output=%s bytes=%d", payload.JobID, result.Output.Path, result.Output.Bytes)
	if _, err := s.setResult(ctx, payload.JobID, store.JobResult{
		Status:    domain.JobStatusSucceeded,
		OutputKey: result.Output.Path,
	}); err != nil {
		s.logger.Printf("job result update failed job_id=%s err=%v", payload.JobID, err)
	}
	s.recordUsage(ctx, payload.JobID, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"output_type":  result.Output.Kind.MIME(),
		"output_key":   result.Output.Path,
		"bytes":        result.Output.Bytes,
		"width":        result.Output.Width,
		"height":       result.Output.Height,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		// Webhook failures after a successful conversion are not retried.
		outcome = domain.JobStatusSucceeded
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "converted")
	return nil
}

func (s *Server) processorFor(sourceType string) (*pipeline.Processor, error) {
	switch strings.ToLower(strings.TrimSpace(sourceType)) {
	case domain.SourceTypeLocalFile:
		return s.localProcessor, nil
	default:
		if s.objectProcessor == nil {
			return nil, errors.New("object storage is unavailable")
		}
		return s.objectProcessor, nil
	}
}

// fail records a failed attempt. Conversion errors and unusable sources end
// the task. Other errors are retried and only the final attempt marks the
// job failed.
func (s *Server) fail(ctx context.Context, span trace.Span, payload queue.ConvertImagePayload, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "conversion failed")

	code, permanent := classify(err)
	var convErr *convert.Error
	errors.As(err, &convErr)
	s.metrics.conversionFailures.WithLabelValues(code).Inc()

	if !permanent && !finalAttempt(ctx) {
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
		return fmt.Errorf("run pipeline: %w", err)
	}

	message := err.Error()
	if convErr != nil {
		message = convErr.Message
	}
	if _, storeErr := s.setResult(ctx, payload.JobID, store.JobResult{
		Status:    domain.JobStatusFailed,
		ErrorCode: code,
		Error:     message,
	}); storeErr != nil {
		s.logger.Printf("job result update failed job_id=%s err=%v", payload.JobID, storeErr)
	}
	_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusFailed,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
		"code":         code,
		"error":        message,
	})

	if permanent {
		return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
	}
	return fmt.Errorf("run pipeline: %w", err)
}

// classify maps a pipeline error to the code stored on the job and reports
// whether retrying could change the outcome.
func classify(err error) (string, bool) {
	var convErr *convert.Error
	switch {
	case errors.As(err, &convErr):
		return string(convErr.Code), true
	case errors.Is(err, pipeline.ErrUnsupportedSourceType):
		return codeUnsupportedSource, true
	case errors.Is(err, storage.ErrObjectNotFound), errors.Is(err, os.ErrNotExist):
		return codeSourceNotFound, true
	case errors.Is(err, storage.ErrObjectTooLarge):
		return codeSourceTooLarge, true
	default:
		return codeInternal, false
	}
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return !ok || retried >= maxRetry
}

// progressSink mirrors conversion checkpoints into the job store and the
// job's webhook. Delivery problems are logged and never fail the job.
func (s *Server) progressSink(ctx context.Context, payload queue.ConvertImagePayload) convert.ProgressSink {
	return convert.ProgressFunc(func(percent float64, message string) error {
		s.metrics.progressEvents.Inc()

		var errs []error
		if s.jobStore != nil {
			if err := s.jobStore.UpdateProgress(ctx, payload.JobID, percent, message); err != nil {
				errs = append(errs, fmt.Errorf("store progress: %w", err))
			}
		}
		if payload.WebhookURL != "" && s.webhookClient != nil {
			if err := s.webhookClient.Notify(ctx, payload.WebhookURL, webhook.EventJobProgress, map[string]any{
				"job_id":   payload.JobID,
				"progress": percent,
				"message":  message,
			}); err != nil {
				errs = append(errs, fmt.Errorf("progress webhook: %w", err))
			}
		}

		err := errors.Join(errs...)
		if err != nil {
			s.logger.Printf("progress update failed job_id=%s progress=%v err=%v", payload.JobID, percent, err)
		}
		return err
	})
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) setResult(ctx context.Context, jobID string, result store.JobResult) (domain.Job, error) {
	if s.jobStore == nil {
		return domain.Job{}, nil
	}
	return s.jobStore.SetResult(ctx, jobID, result)
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ConvertImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, jobID string, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", jobID, err)
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			userID = job.UserID
		}
	}

	computeTimeMS := max(computeDuration.Milliseconds(), 1)
	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           jobID,
		OutputType:      result.Output.Kind.MIME(),
		PixelsProcessed: int64(result.Output.Width) * int64(result.Output.Height),
		InputBytes:      int64(result.SourceBytes),
		OutputBytes:     int64(result.Output.Bytes),
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", jobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(usage.PixelsProcessed))
	s.metrics.inputBytesTotal.Add(float64(usage.InputBytes))
	s.metrics.outputBytesTotal.Add(float64(usage.OutputBytes))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
