package observability

import (
	"context"
	"testing"

	"github.com/walnut-ops/walnut/internal/config"
)

func TestSetupTracing_Disabled_NoOp(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Monitoring.Tracing.Enabled = false

	shutdown, err := SetupTracing(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if shutdown == nil {
		t.Fatalf("expected non-nil shutdown function")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error: %v", err)
	}
}

func TestEndpointHost_Parse(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"http://localhost:4317", "localhost:4317"},
		{"https://otel-collector:4317", "otel-collector:4317"},
		{"127.0.0.1:4317", "127.0.0.1:4317"},
		{"", ""},
		{"http://", ""},
		{"https://example.com:4317/path", "example.com:4317/path"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := endpointHost(tt.input); got != tt.expected {
				t.Fatalf("endpointHost(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSetupTracing_InvalidSampleRatio(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
	}{
		{"negative", -0.1},
		{"zero", 0},
		{"greater than one", 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.GetDefaultConfig()
			cfg.Monitoring.Tracing.Enabled = true
			cfg.Monitoring.Tracing.SampleRatio = tt.ratio

			// The exporter dials lazily, so setup succeeds without a collector.
			shutdown, err := SetupTracing(context.Background(), cfg)
			if err != nil {
				return
			}
			if shutdown != nil {
				shutdown(context.Background())
			}
		})
	}
}

func TestSetupTracing_WithServiceName(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Monitoring.Tracing.Enabled = true
	cfg.Monitoring.Tracing.ServiceName = "walnut-test"

	shutdown, err := SetupTracing(context.Background(), cfg)
	if err != nil {
		return
	}
	if shutdown != nil {
		shutdown(context.Background())
	}
}
