package worker

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/dunamismax/convertflow/internal/convert"
	"github.com/dunamismax/convertflow/internal/pipeline"
	"github.com/dunamismax/convertflow/internal/storage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		permanent bool
	}{
		{"conversion", fmt.Errorf("convert stage: %w", convert.New(convert.CodeSVGParse, "bad")), "SVG_PARSE", true},
		{"unsupported source", fmt.Errorf("fetch stage: %w", pipeline.ErrUnsupportedSourceType), codeUnsupportedSource, true},
		{"missing object", fmt.Errorf("fetch stage: %w", storage.ErrObjectNotFound), codeSourceNotFound, true},
		{"missing file", fmt.Errorf("fetch stage: %w", os.ErrNotExist), codeSourceNotFound, true},
		{"oversized object", fmt.Errorf("fetch stage: %w", storage.ErrObjectTooLarge), codeSourceTooLarge, true},
		{"network", errors.New("dial tcp: connection refused"), codeInternal, false},
	}
	for _, tc := range tests {
		code, permanent := classify(tc.err)
		if code != tc.code || permanent != tc.permanent {
			t.Fatalf("%s: expected (%s, %t), got (%s, %t)", tc.name, tc.code, tc.permanent, code, permanent)
		}
	}
}
