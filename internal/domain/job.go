package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/convertflow/internal/convert"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

// CreateJobRequest asks for one conversion. InputType and OutputType are
// MIME types; an empty InputType means the format is sniffed and an empty
// OutputType means PNG.
type CreateJobRequest struct {
	SourceType string          `json:"source_type"`
	UserID     string          `json:"user_id,omitempty"`
	WebhookURL string          `json:"webhook_url,omitempty"`
	ObjectKey  string          `json:"object_key,omitempty"`
	InputType  string          `json:"input_type,omitempty"`
	OutputType string          `json:"output_type,omitempty"`
	Settings   json.RawMessage `json:"settings,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	ObjectKey  string
	InputType  string
	OutputType string
	Settings   json.RawMessage
	Progress   float64
	Message    string
	OutputKey  string
	ErrorCode  string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Finished reports whether the job reached a terminal status.
func (j Job) Finished() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if _, err := convert.ParseSettings(r.Settings); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}
