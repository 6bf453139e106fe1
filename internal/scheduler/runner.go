// Package scheduler runs one alert cycle. An external scheduler (cron or an
// EventBridge rule) decides when; Runner.Run does exactly one
// fetch -> compute -> decide -> write pass.
//
// Order of operations:
//  1. Load the persisted RunState.
//  2. Compute the best 48h forecast total.
//  3. Evaluate the alert state machine and prepend an item on a new alert.
//  4. Render the feed and save the new RunState.
//  5. Publish the feed (primary sink must succeed).
//  6. Record run telemetry.
//
// A failure before the save leaves the previous state and feed untouched. A
// publish failure after the save is still fatal; the next run re-renders the
// saved items.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"qpfwatch/internal/notifications/core"
	"qpfwatch/internal/notifications/feed"
	"qpfwatch/internal/telemetry"
	"qpfwatch/internal/types"
)

// ForecastSource computes the best forecast for the configured point.
type ForecastSource interface {
	BestForecast(ctx context.Context) (types.BestForecast, error)
}

// FeedPublisher writes the rendered document to every sink.
type FeedPublisher interface {
	Publish(ctx context.Context, doc []byte) (feed.PublishReport, error)
}

// RunnerConfig holds the dependencies and settings for a Runner.
type RunnerConfig struct {
	Forecasts ForecastSource
	Store     types.StateStore
	Publisher FeedPublisher
	Recorder  telemetry.Recorder
	Clock     types.Clock
	Logger    *slog.Logger

	Threshold      float64
	ClearThreshold float64
	MaxItems       int
	Item           core.ItemTemplate
	Channel        feed.Channel
}

// Runner executes alert cycles.
type Runner struct {
	forecasts ForecastSource
	store     types.StateStore
	publisher FeedPublisher
	recorder  telemetry.Recorder
	clock     types.Clock
	logger    *slog.Logger

	threshold      float64
	clearThreshold float64
	maxItems       int
	item           core.ItemTemplate
	channel        feed.Channel
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = telemetry.NoopRecorder{}
	}
	return &Runner{
		forecasts:      cfg.Forecasts,
		store:          cfg.Store,
		publisher:      cfg.Publisher,
		recorder:       recorder,
		clock:          clock,
		logger:         logger,
		threshold:      cfg.Threshold,
		clearThreshold: cfg.ClearThreshold,
		maxItems:       cfg.MaxItems,
		item:           cfg.Item,
		channel:        cfg.Channel,
	}
}

// RunResult describes a completed cycle.
type RunResult struct {
	Best     types.BestForecast
	Decision core.Decision
	State    types.RunState
	// NewItem is set when this run raised an alert.
	NewItem        *types.FeedItem
	MirrorFailures []string
}

// Summary is the one-line report printed on stdout.
func (r RunResult) Summary() string {
	return fmt.Sprintf("Best 48h total=%.2f\"; alert_active=%t", r.Best.Total, r.State.AlertActive)
}

// Run executes one cycle.
func (r *Runner) Run(ctx context.Context) (result RunResult, err error) {
	start := r.clock.Now()

	defer func() {
		r.record(ctx, start, result, err)
	}()

	prev, err := r.store.Load(ctx)
	if err != nil {
		return result, fmt.Errorf("load state: %w", err)
	}

	best, err := r.forecasts.BestForecast(ctx)
	result.Best = best
	if err != nil {
		return result, fmt.Errorf("compute forecast: %w", err)
	}
	for _, c := range best.Failures() {
		r.logger.WarnContext(ctx, "Forecast source unavailable",
			"source", string(c.Source),
			"error", c.Err.Error(),
		)
	}

	decision := core.Decide(prev.AlertActive, best.Total, r.threshold, r.clearThreshold)
	result.Decision = decision

	next := types.RunState{AlertActive: decision.Active, Items: prev.Items}
	now := r.clock.Now()
	switch decision.Transition {
	case core.TransitionRaised:
		item := core.NewAlertItem(r.item, best, now)
		result.NewItem = &item
		next.Items = types.PrependItem(prev.Items, item, r.maxItems)
		r.logger.InfoContext(ctx, "Alert raised",
			"best_total", best.Total,
			"threshold", r.threshold,
			"source", string(best.Source),
			"guid", item.GUID,
		)
	case core.TransitionCleared:
		r.logger.InfoContext(ctx, "Alert cleared",
			"best_total", best.Total,
			"clear_threshold", r.clearThreshold,
		)
	}
	next.Items = types.TruncateItems(next.Items, r.maxItems)

	doc, err := feed.Render(r.channel, next.Items, r.maxItems, now)
	if err != nil {
		return result, types.NewAppError(types.ErrCodeInternalFeedPublish, "failed to render feed", err)
	}

	// State is saved before the feed goes out: a feed carrying an item whose
	// transition was never persisted would be raised again on the next run.
	if err := r.store.Save(ctx, next); err != nil {
		return result, fmt.Errorf("save state: %w", err)
	}
	result.State = next

	report, err := r.publisher.Publish(ctx, doc)
	result.MirrorFailures = report.MirrorFailures
	if err != nil {
		return result, fmt.Errorf("publish feed: %w", err)
	}

	r.logger.InfoContext(ctx, "Run complete",
		"best_total", best.Total,
		"source", string(best.Source),
		"transition", string(decision.Transition),
		"alert_active", next.AlertActive,
		"items", len(next.Items),
	)
	return result, nil
}

func (r *Runner) record(ctx context.Context, start time.Time, result RunResult, runErr error) {
	report := telemetry.RunReport{
		Location:       r.item.Location,
		BestTotal:      result.Best.Total,
		AlertActive:    result.State.AlertActive,
		AlertEmitted:   result.NewItem != nil && runErr == nil,
		MirrorFailures: result.MirrorFailures,
		Duration:       r.clock.Now().Sub(start),
		Outcome:        types.OutcomeSuccess,
	}
	for _, c := range result.Best.Failures() {
		report.SourceFailures = append(report.SourceFailures, c.Source)
	}
	if runErr != nil {
		report.Outcome = types.OutcomeFailure
	}

	r.recorder.RecordRun(ctx, report)
	if err := r.recorder.Flush(ctx); err != nil {
		r.logger.WarnContext(ctx, "Metrics flush failed", "error", err.Error())
	}
}
