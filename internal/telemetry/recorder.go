// Package telemetry records one summary per run. Backends never fail the run:
// delivery errors are logged and swallowed.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"qpfwatch/internal/config"
	"qpfwatch/internal/types"
)

// RunReport summarizes one invocation.
type RunReport struct {
	Location       string
	BestTotal      float64
	AlertActive    bool
	AlertEmitted   bool
	SourceFailures []types.SourceID
	MirrorFailures []string
	Duration       time.Duration
	Outcome        string
}

// Recorder accepts run reports. Flush pushes anything buffered and is called
// once before the process exits.
type Recorder interface {
	RecordRun(ctx context.Context, report RunReport)
	Flush(ctx context.Context) error
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

// RecordRun implements Recorder.
func (NoopRecorder) RecordRun(context.Context, RunReport) {}

// Flush implements Recorder.
func (NoopRecorder) Flush(context.Context) error { return nil }

// New builds the backend selected by cfg.Backend. cw is only used by the
// cloudwatch backend and may be nil otherwise.
func New(cfg config.MetricsConfig, cw CloudWatchClient, clock types.Clock, logger *slog.Logger) (Recorder, error) {
	switch cfg.Backend {
	case "", "none":
		return NoopRecorder{}, nil
	case "cloudwatch":
		if cw == nil {
			return nil, errors.New("cloudwatch metrics backend requires a client")
		}
		return NewCloudWatchRecorder(cw, cfg.Namespace, logger), nil
	case "prometheus":
		return NewPrometheusRecorder(cfg.PromTextfile, clock, logger), nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.Backend)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
