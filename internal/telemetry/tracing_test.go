package telemetry

import (
	"context"
	"io"
	"log"
	"testing"
)

func TestSetupTracingExporters(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	tests := []struct {
		name    string
		cfg     TraceConfig
		wantErr bool
	}{
		{name: "disabled", cfg: TraceConfig{ServiceName: "convertflow"}},
		{name: "none", cfg: TraceConfig{ServiceName: "convertflow", Exporter: "none"}},
		{name: "stdout", cfg: TraceConfig{ServiceName: "convertflow", Component: "worker", Exporter: "stdout", SampleRatio: 0.5}},
		{name: "otlp without endpoint", cfg: TraceConfig{Exporter: "otlp"}, wantErr: true},
		{name: "unknown", cfg: TraceConfig{Exporter: "zipkin"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			shutdown, err := SetupTracing(context.Background(), tc.cfg, logger)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("setup: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Fatalf("shutdown: %v", err)
			}
		})
	}
}
