package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted by ExporterConfig.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterCloudTrace = "cloudtrace"
)

// ExporterConfig selects where finished spans go.
type ExporterConfig struct {
	Exporter  string
	ProjectID string
	// Writer receives stdout spans; nil means os.Stderr so stdout stays clean for the summary.
	Writer io.Writer
}

// NewProcessors returns the span processors for cfg. The "none" exporter yields no
// processors; spans are still created so trace context propagates.
func NewProcessors(_ context.Context, cfg ExporterConfig) ([]sdktrace.SpanProcessor, error) {
	switch cfg.Exporter {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		return []sdktrace.SpanProcessor{sdktrace.NewBatchSpanProcessor(exp)}, nil
	case ExporterCloudTrace:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("tracing.project_id is required for the cloudtrace exporter")
		}
		exp, err := texporter.New(texporter.WithProjectID(cfg.ProjectID))
		if err != nil {
			return nil, fmt.Errorf("create google trace exporter: %w", err)
		}
		return []sdktrace.SpanProcessor{sdktrace.NewBatchSpanProcessor(exp)}, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}
