package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qpfwatch/internal/db"
	"qpfwatch/internal/notifications/core"
	"qpfwatch/internal/notifications/feed"
	"qpfwatch/internal/telemetry"
	"qpfwatch/internal/types"
)

// --- Fakes ---

type fakeForecasts struct {
	totals []float64
	calls  int
	err    error
	fail   []types.Candidate
}

func (f *fakeForecasts) BestForecast(context.Context) (types.BestForecast, error) {
	if f.err != nil {
		return types.BestForecast{Candidates: f.fail}, f.err
	}
	total := f.totals[f.calls]
	f.calls++
	return types.BestForecast{
		Total:       total,
		Source:      types.SourceDay12,
		Description: "Fixed 48h: Day 1–2 total=x",
		Candidates:  append([]types.Candidate{{Source: types.SourceDay12, Total: total, Available: true, Attempted: true}}, f.fail...),
	}, nil
}

type fakePublisher struct {
	docs   [][]byte
	err    error
	report feed.PublishReport
}

func (p *fakePublisher) Publish(_ context.Context, doc []byte) (feed.PublishReport, error) {
	if p.err != nil {
		return feed.PublishReport{}, p.err
	}
	p.docs = append(p.docs, doc)
	return p.report, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	reports []telemetry.RunReport
	flushes int
}

func (r *fakeRecorder) RecordRun(_ context.Context, report telemetry.RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *fakeRecorder) Flush(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

type failingStore struct {
	types.StateStore
	saveErr error
}

func (s failingStore) Save(context.Context, types.RunState) error { return s.saveErr }

type harness struct {
	runner    *Runner
	forecasts *fakeForecasts
	store     *db.MemoryStateStore
	publisher *fakePublisher
	recorder  *fakeRecorder
	clock     *clockwork.FakeClock
}

func newHarness(totals []float64, initial types.RunState) *harness {
	h := &harness{
		forecasts: &fakeForecasts{totals: totals},
		store:     db.NewMemoryStateStore(initial, 25),
		publisher: &fakePublisher{},
		recorder:  &fakeRecorder{},
		clock:     clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 18, 30, 5, 0, time.UTC)),
	}
	h.runner = h.build(h.store)
	return h
}

func (h *harness) build(store types.StateStore) *Runner {
	return NewRunner(RunnerConfig{
		Forecasts:      h.forecasts,
		Store:          store,
		Publisher:      h.publisher,
		Recorder:       h.recorder,
		Clock:          h.clock,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Threshold:      0.30,
		ClearThreshold: 0.30,
		MaxItems:       25,
		Item: core.ItemTemplate{
			Location:    "Fairfax",
			Threshold:   0.30,
			Link:        "https://www.wpc.ncep.noaa.gov/qpf/day1-2.shtml",
			GUIDPrefix:  "fairfax-wpc",
			Attribution: "WPC QPF (NOAA/NWS).",
		},
		Channel: feed.ChannelFor("Fairfax", 0.30, "", "https://www.wpc.ncep.noaa.gov/qpf/day1-2.shtml"),
	})
}

// --- Tests ---

func TestRunRaisesAlertOnce(t *testing.T) {
	h := newHarness([]float64{0.1, 0.45, 0.6, 0.2, 0.35}, types.RunState{})
	ctx := context.Background()

	var emitted []bool
	for i := 0; i < 5; i++ {
		res, err := h.runner.Run(ctx)
		require.NoError(t, err)
		emitted = append(emitted, res.NewItem != nil)
		h.clock.Advance(6 * time.Hour)
	}

	assert.Equal(t, []bool{false, true, false, false, true}, emitted)

	state, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, state.AlertActive)
	require.Len(t, state.Items, 2)
	assert.Contains(t, state.Items[0].Title, "Forecast window total 0.35")
	assert.Contains(t, state.Items[1].Title, "Forecast window total 0.45")
	assert.Len(t, h.publisher.docs, 5, "the feed is rewritten every run")
}

func TestRunSummaryAndFeed(t *testing.T) {
	h := newHarness([]float64{0.9}, types.RunState{})

	res, err := h.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, `Best 48h total=0.90"; alert_active=true`, res.Summary())
	assert.Equal(t, core.TransitionRaised, res.Decision.Transition)
	require.NotNil(t, res.NewItem)
	assert.Equal(t, "fairfax-wpc-1741977005", res.NewItem.GUID)

	doc := string(h.publisher.docs[0])
	assert.Contains(t, doc, "<guid isPermaLink=\"false\">fairfax-wpc-1741977005</guid>")
	assert.Contains(t, doc, "<lastBuildDate>Fri, 14 Mar 2025 18:30:05 GMT</lastBuildDate>")
}

func TestRunClearsWithoutItem(t *testing.T) {
	h := newHarness([]float64{0.1}, types.RunState{AlertActive: true})

	res, err := h.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.TransitionCleared, res.Decision.Transition)
	assert.Nil(t, res.NewItem)
	assert.Equal(t, `Best 48h total=0.10"; alert_active=false`, res.Summary())
}

func TestRunKeepsNewestItems(t *testing.T) {
	existing := make([]types.FeedItem, 25)
	for i := range existing {
		existing[i] = types.FeedItem{GUID: "old-" + strings.Repeat("x", i)}
	}
	h := newHarness([]float64{1.0}, types.RunState{Items: existing})

	res, err := h.runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.State.Items, 25)
	assert.Equal(t, "fairfax-wpc-1741977005", res.State.Items[0].GUID)
	assert.Equal(t, existing[23].GUID, res.State.Items[24].GUID)
	assert.Equal(t, 25, strings.Count(string(h.publisher.docs[0]), "<item>"))
}

func TestRunForecastFailureIsFatal(t *testing.T) {
	h := newHarness(nil, types.RunState{AlertActive: true})
	boom := types.NewAppError(types.ErrCodeUpstreamForecast, "all forecast sources failed", nil)
	h.forecasts.err = boom
	h.forecasts.fail = []types.Candidate{{Source: types.SourceSliding, Attempted: true, Err: errors.New("timeout")}}

	_, err := h.runner.Run(context.Background())
	require.ErrorIs(t, err, boom)

	assert.Empty(t, h.publisher.docs, "no feed is written on a fatal error")
	assert.Equal(t, 0, h.store.Saves())
	state, _ := h.store.Load(context.Background())
	assert.True(t, state.AlertActive, "prior state is left intact")

	require.Len(t, h.recorder.reports, 1)
	assert.Equal(t, types.OutcomeFailure, h.recorder.reports[0].Outcome)
	assert.Equal(t, []types.SourceID{types.SourceSliding}, h.recorder.reports[0].SourceFailures)
}

func TestRunPublishFailureAfterSave(t *testing.T) {
	h := newHarness([]float64{0.9, 0.9}, types.RunState{})
	h.publisher.err = types.NewAppError(types.ErrCodeInternalFeedPublish, "disk full", nil)

	_, err := h.runner.Run(context.Background())
	assert.Equal(t, types.ErrCodeInternalFeedPublish, types.CodeOf(err))
	assert.Equal(t, 1, h.store.Saves())

	h.publisher.err = nil
	h.clock.Advance(6 * time.Hour)
	res, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.NewItem, "the saved transition is not raised again")
	require.Len(t, h.publisher.docs, 1)
	assert.Equal(t, 1, strings.Count(string(h.publisher.docs[0]), "<item>"))
}

func TestRunSaveFailurePublishesNothing(t *testing.T) {
	h := newHarness([]float64{0.9, 0.9}, types.RunState{})
	saveErr := types.NewAppError(types.ErrCodeInternalStateStore, "disk full", nil)
	broken := h.build(failingStore{StateStore: h.store, saveErr: saveErr})

	_, err := broken.Run(context.Background())
	assert.ErrorIs(t, err, saveErr)
	assert.Empty(t, h.publisher.docs)

	h.clock.Advance(6 * time.Hour)
	res, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.NewItem)
	require.Len(t, h.publisher.docs, 1)
	assert.Equal(t, 1, strings.Count(string(h.publisher.docs[0]), "<item>"), "subscribers see a single alert")
}

func TestRunRecordsTelemetry(t *testing.T) {
	h := newHarness([]float64{0.9}, types.RunState{})
	h.publisher.report = feed.PublishReport{MirrorFailures: []string{"s3"}}
	h.forecasts.fail = []types.Candidate{{Source: types.SourceDay67, Attempted: true, Err: errors.New("bad json")}}

	_, err := h.runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.recorder.reports, 1)
	report := h.recorder.reports[0]
	assert.Equal(t, "Fairfax", report.Location)
	assert.Equal(t, 0.9, report.BestTotal)
	assert.True(t, report.AlertActive)
	assert.True(t, report.AlertEmitted)
	assert.Equal(t, []string{"s3"}, report.MirrorFailures)
	assert.Equal(t, []types.SourceID{types.SourceDay67}, report.SourceFailures)
	assert.Equal(t, types.OutcomeSuccess, report.Outcome)
	assert.Equal(t, 1, h.recorder.flushes)
}
