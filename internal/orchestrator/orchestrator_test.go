package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/godseye/insight/internal/analysis"
	"github.com/godseye/insight/internal/cache"
	sha256hash "github.com/godseye/insight/internal/hash/sha256"
	"github.com/godseye/insight/internal/history"
	"github.com/godseye/insight/internal/settings"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	block   chan struct{}
	started chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, pageURL string, analysisType string) analysis.Result {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return analysis.Result{
		URL:       pageURL,
		Title:     "Fetched",
		Summary:   "summary",
		Sentiment: analysis.Sentiment{Positive: 70, Negative: 10, Neutral: 20, Dominant: analysis.SentimentPositive},
		Bias:      analysis.Bias{Overall: 0.1, Type: analysis.BiasCenter},
		Credibility: analysis.Credibility{
			Status:     analysis.CredibilityReliable,
			TrustScore: 0.8,
		},
	}
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memHistory struct {
	mu    sync.Mutex
	items []history.Item
	err   error
}

func (h *memHistory) Append(ctx context.Context, item history.Item) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return false, h.err
	}
	h.items = append(h.items, item)
	return true, nil
}

func (h *memHistory) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

type recordingCascade struct {
	mu        sync.Mutex
	announced []string
	scheduled []analysis.Result
	contexts  []context.Context
}

func (c *recordingCascade) Announce(ctx context.Context, title, message string, severity analysis.Severity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.announced = append(c.announced, title)
}

func (c *recordingCascade) ScheduleCascade(ctx context.Context, result analysis.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduled = append(c.scheduled, result)
	c.contexts = append(c.contexts, ctx)
}

type staticSettings struct{ s settings.Settings }

func (s staticSettings) Current() settings.Settings { return s.s }

type fixture struct {
	orch    *Orchestrator
	fetcher *fakeFetcher
	history *memHistory
	cascade *recordingCascade
	clock   *fakeClock
}

func newFixture(t *testing.T, current settings.Settings, opts ...Option) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f := &fixture{
		fetcher: &fakeFetcher{},
		history: &memHistory{},
		cascade: &recordingCascade{},
		clock:   clock,
	}
	f.orch = New(
		f.fetcher,
		cache.New(clock),
		f.history,
		f.cascade,
		staticSettings{s: current},
		sha256hash.New(),
		zap.NewNop(),
		opts...,
	)
	t.Cleanup(f.orch.Close)
	return f
}

func pageContent(marker string) string {
	return marker + " " + strings.Repeat("substantive page text ", 10)
}

func manualRequest(contextID, pageURL, marker string) Request {
	return Request{
		ContextID: contextID,
		PageURL:   pageURL,
		Title:     "Some page",
		Content:   pageContent(marker),
		Trigger:   TriggerManual,
	}
}

func TestAnalyzeRejectsShortContent(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	req := Request{
		ContextID: "tab-1",
		PageURL:   "https://example.com/a",
		Content:   "   too short   ",
		Trigger:   TriggerManual,
	}
	_, err := f.orch.Analyze(context.Background(), req)
	assert.ErrorIs(t, err, ErrContentTooShort)
	assert.Equal(t, 0, f.fetcher.count())
}

func TestAnalyzeFullPipeline(t *testing.T) {
	f := newFixture(t, settings.Defaults())

	result, err := f.orch.Analyze(context.Background(), manualRequest("tab-1", "https://example.com/story", "v1"))

	require.NoError(t, err)
	assert.Equal(t, "https://example.com/story", result.URL)
	assert.Equal(t, 1, f.fetcher.count())
	assert.Equal(t, 1, f.history.len())
	assert.Equal(t, []string{"Analysis complete"}, f.cascade.announced)
	require.Len(t, f.cascade.scheduled, 1)

	cached, ok := f.orch.GetCached("https://example.com/story")
	assert.True(t, ok)
	assert.Equal(t, result.URL, cached.URL)
}

func TestAnalyzeCacheHitSkipsFetch(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	ctx := context.Background()

	_, err := f.orch.Analyze(ctx, manualRequest("tab-1", "https://example.com/story", "v1"))
	require.NoError(t, err)

	// Different context, different content, same page: served from cache.
	_, err = f.orch.Analyze(ctx, manualRequest("tab-2", "https://example.com/story", "v2"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.fetcher.count())
}

func TestAnalyzeDigestShortCircuit(t *testing.T) {
	f := newFixture(t, settings.Defaults(), WithAutoAnalysisInterval(0))
	ctx := context.Background()

	req := manualRequest("tab-1", "https://example.com/story", "same")
	req.Trigger = TriggerAuto
	first, err := f.orch.Analyze(ctx, req)
	require.NoError(t, err)

	// Cache has gone stale but the page text is unchanged.
	f.clock.Advance(10 * time.Minute)
	second, err := f.orch.Analyze(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.fetcher.count())
}

func TestManualAnalysisBypassesDigestShortCircuit(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	ctx := context.Background()

	_, err := f.orch.Analyze(ctx, manualRequest("tab-1", "https://example.com/story", "same"))
	require.NoError(t, err)

	// Same content, stale cache, manual trigger: the user gets a real fetch.
	f.clock.Advance(10 * time.Minute)
	_, err = f.orch.Analyze(ctx, manualRequest("tab-1", "https://example.com/story", "same"))
	require.NoError(t, err)
	assert.Equal(t, 2, f.fetcher.count())
}

func TestAnalyzeSingleFlightPerContext(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	f.fetcher.block = make(chan struct{})
	f.fetcher.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Analyze(context.Background(), manualRequest("tab-1", "https://example.com/a", "v1"))
		done <- err
	}()
	<-f.fetcher.started

	_, err := f.orch.Analyze(context.Background(), manualRequest("tab-1", "https://example.com/b", "v2"))
	assert.ErrorIs(t, err, ErrBusy)

	f.fetcher.block <- struct{}{}
	close(f.fetcher.block)
	require.NoError(t, <-done)

	// The context is idle again once the first request finishes.
	_, err = f.orch.Analyze(context.Background(), manualRequest("tab-1", "https://example.com/c", "v3"))
	assert.NoError(t, err)
}

func TestAutoAnalysisThrottle(t *testing.T) {
	f := newFixture(t, settings.Defaults(), WithAutoAnalysisInterval(30*time.Second))
	ctx := context.Background()

	auto := manualRequest("tab-1", "https://example.com/a", "v1")
	auto.Trigger = TriggerAuto
	_, err := f.orch.Analyze(ctx, auto)
	require.NoError(t, err)

	// A second automatic request inside the window is refused.
	next := manualRequest("tab-1", "https://example.com/b", "v2")
	next.Trigger = TriggerAuto
	_, err = f.orch.Analyze(ctx, next)
	assert.ErrorIs(t, err, ErrThrottled)

	// Manual requests ignore the throttle.
	_, err = f.orch.Analyze(ctx, manualRequest("tab-1", "https://example.com/c", "v3"))
	require.NoError(t, err)
	assert.Equal(t, 2, f.fetcher.count())
}

func TestAutoAnalysisDisabledBySetting(t *testing.T) {
	current := settings.Defaults()
	current.AutoAnalysis = false
	f := newFixture(t, current)

	req := manualRequest("tab-1", "https://example.com/a", "v1")
	req.Trigger = TriggerAuto
	_, err := f.orch.Analyze(context.Background(), req)
	assert.ErrorIs(t, err, ErrAutoDisabled)

	// Manual analysis still works with auto-analysis off.
	_, err = f.orch.Analyze(context.Background(), manualRequest("tab-1", "https://example.com/a", "v1"))
	require.NoError(t, err)
}

func TestHistoryTrackingDisabled(t *testing.T) {
	current := settings.Defaults()
	current.TrackHistory = false
	f := newFixture(t, current)

	_, err := f.orch.Analyze(context.Background(), manualRequest("tab-1", "https://example.com/a", "v1"))
	require.NoError(t, err)
	assert.Equal(t, 0, f.history.len())
}

func TestHistoryFailureDoesNotFailAnalysis(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	f.history.err = errors.New("storage down")

	result, err := f.orch.Analyze(context.Background(), manualRequest("tab-1", "https://example.com/a", "v1"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", result.URL)
}

func TestTeardownCancelsCascadeContext(t *testing.T) {
	f := newFixture(t, settings.Defaults())

	_, err := f.orch.Analyze(context.Background(), manualRequest("tab-1", "https://example.com/a", "v1"))
	require.NoError(t, err)
	require.Len(t, f.cascade.contexts, 1)

	cascadeCtx := f.cascade.contexts[0]
	require.NoError(t, cascadeCtx.Err())

	f.orch.Teardown("tab-1")
	assert.ErrorIs(t, cascadeCtx.Err(), context.Canceled)
	assert.Equal(t, 0, f.orch.contexts.len())
}

func TestTeardownResetsThrottle(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	ctx := context.Background()

	auto := manualRequest("tab-1", "https://example.com/a", "v1")
	auto.Trigger = TriggerAuto
	_, err := f.orch.Analyze(ctx, auto)
	require.NoError(t, err)

	f.orch.Teardown("tab-1")

	// A fresh context starts with a full throttle allowance. The page is
	// cached, so no second fetch happens, but the request is accepted.
	again := manualRequest("tab-1", "https://example.com/a", "v1")
	again.Trigger = TriggerAuto
	_, err = f.orch.Analyze(ctx, again)
	require.NoError(t, err)
}

// blockingFetcher parks inside Fetch until its context dies, then reports how
// it died.
type blockingFetcher struct {
	started chan struct{}
	done    chan error
}

func (f *blockingFetcher) Fetch(ctx context.Context, pageURL string, analysisType string) analysis.Result {
	close(f.started)
	<-ctx.Done()
	f.done <- ctx.Err()
	return analysis.Result{URL: pageURL, Title: "Aborted", Synthetic: true}
}

func TestTeardownAbortsInFlightFetch(t *testing.T) {
	fetch := &blockingFetcher{started: make(chan struct{}), done: make(chan error, 1)}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	orch := New(
		fetch,
		cache.New(clock),
		&memHistory{},
		&recordingCascade{},
		staticSettings{s: settings.Defaults()},
		sha256hash.New(),
		zap.NewNop(),
	)
	t.Cleanup(orch.Close)

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		_, _ = orch.Analyze(context.Background(), manualRequest("tab-1", "https://example.com/a", "v1"))
	}()

	<-fetch.started
	orch.Teardown("tab-1")

	select {
	case err := <-fetch.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch kept running after its context was torn down")
	}
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("analyze never returned after teardown")
	}
}

func TestSnippetCutsAtRuneBoundary(t *testing.T) {
	long := strings.Repeat("日本語", 100) // 900 bytes of 3-byte runes

	got := snippet(long)

	assert.LessOrEqual(t, len(got), 500)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(long, got))

	short := "日本語"
	assert.Equal(t, short, snippet(short))
}
