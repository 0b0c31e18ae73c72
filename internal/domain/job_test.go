package domain

import (
	"encoding/json"
	"testing"
)

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		InputType:  "image/svg+xml",
		OutputType: "image/webp",
		Settings:   json.RawMessage(`{"type":"svg","width":64,"height":64}`),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	invalid := CreateJobRequest{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	missingObjectKey := CreateJobRequest{
		SourceType: SourceTypeLocalFile,
		OutputType: "image/png",
	}
	if err := missingObjectKey.Validate(); err == nil {
		t.Fatal("expected validation error for local_file object_key")
	}

	unsupportedSourceType := CreateJobRequest{
		SourceType: "http_url",
		OutputType: "image/png",
	}
	if err := unsupportedSourceType.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported source_type")
	}

	badSettings := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Settings:   json.RawMessage(`{"type":"svg","width":10}`),
	}
	if err := badSettings.Validate(); err == nil {
		t.Fatal("expected validation error for incomplete settings")
	}
}

func TestJobFinished(t *testing.T) {
	for status, want := range map[string]bool{
		JobStatusCreated:    false,
		JobStatusQueued:     false,
		JobStatusProcessing: false,
		JobStatusSucceeded:  true,
		JobStatusFailed:     true,
	} {
		if got := (Job{Status: status}).Finished(); got != want {
			t.Fatalf("status %s: expected finished=%t, got %t", status, want, got)
		}
	}
}
