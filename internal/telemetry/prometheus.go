package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"qpfwatch/internal/types"
)

const promNamespace = "qpfwatch"

var allSources = []types.SourceID{types.SourceSliding, types.SourceDay12, types.SourceDay45, types.SourceDay67}

// PrometheusRecorder keeps gauges for the latest run in a private registry and
// writes them to a node_exporter textfile on Flush. Every value describes the
// last run only, so counters are not used.
type PrometheusRecorder struct {
	path     string
	registry *prometheus.Registry
	clock    types.Clock
	logger   *slog.Logger

	bestTotal      *prometheus.GaugeVec
	alertActive    *prometheus.GaugeVec
	alertEmitted   *prometheus.GaugeVec
	sourceFailures *prometheus.GaugeVec
	mirrorFailures *prometheus.GaugeVec
	duration       *prometheus.GaugeVec
	lastSuccess    *prometheus.GaugeVec
	lastRun        *prometheus.GaugeVec
}

// NewPrometheusRecorder creates a recorder that writes to path on Flush.
func NewPrometheusRecorder(path string, clock types.Clock, logger *slog.Logger) *PrometheusRecorder {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		}, append([]string{"location"}, labels...))
	}

	r := &PrometheusRecorder{
		path:           path,
		registry:       prometheus.NewRegistry(),
		clock:          clock,
		logger:         logger,
		bestTotal:      gauge("best_total_inches", "Largest 48h rainfall total found in the last run."),
		alertActive:    gauge("alert_active", "1 while an alert is active."),
		alertEmitted:   gauge("alert_emitted", "1 when the last run published a new alert item."),
		sourceFailures: gauge("source_failed", "1 when a forecast source failed in the last run.", "source"),
		mirrorFailures: gauge("mirror_failed", "1 when a feed mirror failed in the last run.", "sink"),
		duration:       gauge("run_duration_seconds", "Wall time of the last run."),
		lastSuccess:    gauge("last_run_success", "1 when the last run completed without a fatal error."),
		lastRun:        gauge("last_run_timestamp_seconds", "Unix time the last run finished."),
	}
	r.registry.MustRegister(
		r.bestTotal, r.alertActive, r.alertEmitted, r.sourceFailures,
		r.mirrorFailures, r.duration, r.lastSuccess, r.lastRun,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// RecordRun implements Recorder.
func (r *PrometheusRecorder) RecordRun(_ context.Context, report RunReport) {
	loc := report.Location

	r.bestTotal.WithLabelValues(loc).Set(report.BestTotal)
	r.alertActive.WithLabelValues(loc).Set(boolGauge(report.AlertActive))
	r.alertEmitted.WithLabelValues(loc).Set(boolGauge(report.AlertEmitted))
	r.duration.WithLabelValues(loc).Set(report.Duration.Seconds())
	r.lastSuccess.WithLabelValues(loc).Set(boolGauge(report.Outcome == types.OutcomeSuccess))
	r.lastRun.WithLabelValues(loc).Set(float64(r.clock.Now().Unix()))

	failed := make(map[types.SourceID]bool, len(report.SourceFailures))
	for _, src := range report.SourceFailures {
		failed[src] = true
	}
	for _, src := range allSources {
		r.sourceFailures.WithLabelValues(loc, string(src)).Set(boolGauge(failed[src]))
	}

	r.mirrorFailures.Reset()
	for _, sink := range report.MirrorFailures {
		r.mirrorFailures.WithLabelValues(loc, sink).Set(1)
	}
}

// Flush implements Recorder by atomically rewriting the textfile.
func (r *PrometheusRecorder) Flush(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		r.logger.ErrorContext(ctx, "failed to write prometheus textfile",
			"path", r.path,
			"error", err.Error(),
		)
		return fmt.Errorf("write textfile %s: %w", r.path, err)
	}
	return nil
}
