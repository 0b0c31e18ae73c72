package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/convertflow/internal/convert"
	"github.com/dunamismax/convertflow/internal/domain"
	"github.com/dunamismax/convertflow/internal/format"
	"github.com/dunamismax/convertflow/internal/id"
	"github.com/dunamismax/convertflow/internal/queue"
	"github.com/dunamismax/convertflow/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// HeaderSettings carries the JSON conversion settings for POST /v1/convert.
const HeaderSettings = "X-Convert-Settings"

const defaultMaxInputBytes = 32 << 20

type Server struct {
	logger                *log.Logger
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	storage               objectStorage
	converter             *convert.Converter
	presignTTL            time.Duration
	maxInputBytes         int64
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

// Config holds the optional collaborators and limits of the API server.
// Zero values fall back to defaults; a nil RateLimiter disables rate
// limiting.
type Config struct {
	PresignTTL            time.Duration
	MaxInputBytes         int64
	Converter             *convert.Converter
	RateLimiter           RateLimiter
	RateLimitUserIDHeader string
}

type queueEnqueuer interface {
	EnqueueConvertImage(ctx context.Context, payload queue.ConvertImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

func NewServer(logger *log.Logger, queueClient queueEnqueuer, jobStore store.JobStore, storage objectStorage, cfg Config) *Server {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = defaultMaxInputBytes
	}
	if cfg.Converter == nil {
		cfg.Converter = &convert.Converter{}
	}
	if cfg.RateLimitUserIDHeader == "" {
		cfg.RateLimitUserIDHeader = "X-User-ID"
	}
	if storage == nil {
		storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		jobStore:              jobStore,
		storage:               storage,
		converter:             cfg.Converter,
		presignTTL:            cfg.PresignTTL,
		maxInputBytes:         cfg.MaxInputBytes,
		rateLimiter:           cfg.RateLimiter,
		rateLimitUserIDHeader: cfg.RateLimitUserIDHeader,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("convertflow/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/convert", s.handleConvert)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("POST /v1/jobs/", s.handleStartJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConvert converts the request body synchronously. The source type
// comes from ?source= or the Content-Type header and the target from
// ?target=.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxInputBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}
	if int64(len(body)) > s.maxInputBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("request body exceeds %d bytes", s.maxInputBytes),
		})
		return
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request body is empty"})
		return
	}

	query := r.URL.Query()
	source := strings.TrimSpace(query.Get("source"))
	if source == "" {
		source = r.Header.Get("Content-Type")
	}
	target := strings.TrimSpace(query.Get("target"))
	kind, ok := format.TargetKind(target)
	if !ok {
		kind = format.PNG
	}

	out, err := s.converter.Convert(r.Context(), convert.Request{
		Data:       body,
		SourceType: source,
		TargetType: target,
		Settings:   json.RawMessage(r.Header.Get(HeaderSettings)),
	}, nil)
	if err != nil {
		s.writeConvertError(w, kind, err)
		return
	}

	s.metrics.conversionsTotal.WithLabelValues(kind.String(), "ok").Inc()
	w.Header().Set("Content-Type", kind.MIME())
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="converted.%s"`, kind.Extension()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) writeConvertError(w http.ResponseWriter, kind format.Kind, err error) {
	var convErr *convert.Error
	if errors.As(err, &convErr) {
		s.metrics.conversionsTotal.WithLabelValues(kind.String(), string(convErr.Code)).Inc()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": convErr.Message,
			"code":  string(convErr.Code),
		})
		return
	}

	s.metrics.conversionsTotal.WithLabelValues(kind.String(), "error").Inc()
	s.logger.Printf("convert failed target=%s err=%v", kind, err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "conversion failed"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = fmt.Sprintf("uploads/%s/source", jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed for job %s: %v", jobID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
	}

	job := domain.Job{
		ID:         jobID,
		UserID:     userID,
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		WebhookURL: req.WebhookURL,
		ObjectKey:  objectKey,
		InputType:  strings.TrimSpace(req.InputType),
		OutputType: strings.TrimSpace(req.OutputType),
		Settings:   req.Settings,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed for job %s: %v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url":  fmt.Sprintf("/v1/jobs/%s/start", job.ID),
		"status_url": fmt.Sprintf("/v1/jobs/%s", job.ID),
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := extractJobIDFromStartPath(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed for job %s: %v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job already started: " + job.Status})
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	payload := queue.ConvertImagePayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		InputType:   job.InputType,
		OutputType:  job.OutputType,
		Settings:    job.Settings,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueConvertImage(r.Context(), payload)
	if err != nil {
		s.logger.Printf("enqueue failed for job %s: %v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed for job %s: %v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if !id.Valid(jobID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed for job %s: %v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	resp := map[string]any{
		"job_id":      job.ID,
		"status":      job.Status,
		"source_type": job.SourceType,
		"input_type":  job.InputType,
		"output_type": job.OutputType,
		"progress":    job.Progress,
		"message":     job.Message,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	}
	if job.Status == domain.JobStatusSucceeded {
		resp["output_key"] = job.OutputKey
		if job.SourceType == domain.SourceTypeS3Presigned {
			url, err := s.storage.PresignedGetURL(r.Context(), job.OutputKey, s.presignTTL)
			if err != nil {
				s.logger.Printf("presign download failed for job %s: %v", job.ID, err)
			} else {
				resp["download_url"] = url
			}
		}
	}
	if job.Status == domain.JobStatusFailed {
		resp["error"] = job.Error
		resp["code"] = job.ErrorCode
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func extractJobIDFromStartPath(path string) (string, error) {
	trimmed := strings.TrimPrefix(path, "/v1/jobs/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "start" {
		return "", errors.New("expected path format /v1/jobs/{id}/start")
	}
	return parts[0], nil
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
