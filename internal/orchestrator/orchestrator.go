// Package orchestrator coordinates a page analysis end to end: content
// gating, per-context single-flight, cache lookup, the backend fetch, history
// recording and the notification cascade.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/godseye/insight/internal/analysis"
	"github.com/godseye/insight/internal/cache"
	"github.com/godseye/insight/internal/history"
	"github.com/godseye/insight/internal/metrics"
	"github.com/godseye/insight/internal/settings"
)

// MinContentLength is the smallest trimmed page text worth analyzing.
const MinContentLength = 100

// Analysis rejection reasons.
var (
	ErrContentTooShort = errors.New("content too short to analyze")
	ErrBusy            = errors.New("analysis already in flight for this context")
	ErrThrottled       = errors.New("automatic analysis throttled")
	ErrAutoDisabled    = errors.New("automatic analysis is disabled")
)

// Trigger distinguishes user-initiated analyses from automatic ones.
type Trigger string

// Trigger values. Manual triggers bypass the automatic-analysis throttle and
// the automatic-analysis setting.
const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
)

// Request is one analysis invocation for a page open in some context (a tab,
// a session, an API caller).
type Request struct {
	ContextID string
	PageURL   string
	Title     string
	Content   string
	Type      string
	Trigger   Trigger
}

// Fetcher produces an analysis for a page. It never fails; a degraded
// implementation answers synthetically.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string, analysisType string) analysis.Result
}

// ResultCache is the fresh-result cache consulted before any fetch.
type ResultCache interface {
	Get(key string) (analysis.Result, bool)
	Put(key string, result analysis.Result)
}

// HistoryStore records completed analyses.
type HistoryStore interface {
	Append(ctx context.Context, item history.Item) (bool, error)
}

// Cascade delivers the completion announcement and the delayed follow-ups.
type Cascade interface {
	Announce(ctx context.Context, title string, message string, severity analysis.Severity)
	ScheduleCascade(ctx context.Context, result analysis.Result)
}

// SettingsSource exposes the current runtime settings.
type SettingsSource interface {
	Current() settings.Settings
}

// Orchestrator runs the analysis pipeline. One orchestrator serves many
// contexts; each context gets its own throttle, single-flight guard and
// last-result memory.
type Orchestrator struct {
	fetcher  Fetcher
	cache    ResultCache
	history  HistoryStore
	cascade  Cascade
	settings SettingsSource
	hasher   analysis.Hasher
	logger   *zap.Logger

	contexts *registry
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithAutoAnalysisInterval overrides the spacing between automatic analyses
// in one context.
func WithAutoAnalysisInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.contexts.interval = d
	}
}

// New wires the pipeline. A nil settings source behaves as defaults; a nil
// history store or cascade disables that stage.
func New(
	fetcher Fetcher,
	resultCache ResultCache,
	historyStore HistoryStore,
	cascade Cascade,
	source SettingsSource,
	hasher analysis.Hasher,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		fetcher:  fetcher,
		cache:    resultCache,
		history:  historyStore,
		cascade:  cascade,
		settings: source,
		hasher:   hasher,
		logger:   logger,
		contexts: newRegistry(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Analyze runs one analysis for the request's context. The context always
// returns to idle, whatever path the request takes.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (analysis.Result, error) {
	if len(strings.TrimSpace(req.Content)) < MinContentLength {
		metrics.RecordAnalysis("content_too_short")
		return analysis.Result{}, ErrContentTooShort
	}
	if req.Type == "" {
		req.Type = "enhanced"
	}

	pc := o.contexts.acquire(req.ContextID)
	if !pc.busy.CompareAndSwap(false, true) {
		metrics.RecordAnalysis("busy")
		return analysis.Result{}, ErrBusy
	}
	defer pc.busy.Store(false)

	current := o.currentSettings()
	digest := o.digest(req.Content)
	if req.Trigger == TriggerAuto {
		if !current.AutoAnalysis {
			metrics.RecordAnalysis("auto_disabled")
			return analysis.Result{}, ErrAutoDisabled
		}
		if !pc.throttle.Allow() {
			metrics.RecordAnalysis("throttled")
			return analysis.Result{}, ErrThrottled
		}
		// Unchanged page text needs no new analysis; manual requests skip
		// this shortcut so a user can always force one.
		if last, ok := pc.lastFor(digest); ok {
			metrics.RecordAnalysis("digest_hit")
			return last, nil
		}
	}

	key := cache.Key(req.PageURL)
	if cached, ok := o.cache.Get(key); ok {
		metrics.RecordCacheLookup(true)
		metrics.RecordAnalysis("cache_hit")
		pc.remember(digest, cached)
		return cached, nil
	}
	metrics.RecordCacheLookup(false)

	// The fetch must die with either lifetime: the caller's request or the
	// page context being torn down mid-flight.
	fetchCtx, stopFetch := context.WithCancel(ctx)
	defer stopFetch()
	release := context.AfterFunc(pc.ctx, stopFetch)
	result := o.fetcher.Fetch(fetchCtx, req.PageURL, req.Type)
	release()

	if result.Title == "" {
		result.Title = req.Title
	}
	o.cache.Put(key, result)
	pc.remember(digest, result)

	if o.history != nil && current.TrackHistory {
		stored, err := o.history.Append(ctx, history.Item{
			URL:      req.PageURL,
			Title:    result.Title,
			Content:  snippet(req.Content),
			Analysis: &result,
		})
		if err != nil {
			// History failures degrade tracking, never the analysis itself.
			o.logger.Warn("history append failed",
				zap.String("url", req.PageURL),
				zap.Error(err),
			)
		} else if !stored {
			o.logger.Debug("history append collapsed into recent item",
				zap.String("url", req.PageURL),
			)
		}
	}

	if o.cascade != nil {
		o.cascade.Announce(ctx, "Analysis complete", "Page analysis finished", analysis.SeveritySuccess)
		// Follow-ups ride the context lifetime, not the request, so tearing
		// the context down cancels anything still pending.
		o.cascade.ScheduleCascade(pc.ctx, result)
	}

	metrics.RecordAnalysis("completed")
	return result, nil
}

// GetCached returns a fresh cached result for the page, if any.
func (o *Orchestrator) GetCached(pageURL string) (analysis.Result, bool) {
	return o.cache.Get(cache.Key(pageURL))
}

// Teardown discards a context's state and cancels its pending follow-ups.
func (o *Orchestrator) Teardown(contextID string) {
	o.contexts.remove(contextID)
}

// Close tears down every context.
func (o *Orchestrator) Close() {
	o.contexts.clear()
}

func (o *Orchestrator) currentSettings() settings.Settings {
	if o.settings == nil {
		return settings.Defaults()
	}
	return o.settings.Current()
}

// digest fingerprints the page text so repeat analyses of unchanged content
// short-circuit. A hashing failure just disables the shortcut.
func (o *Orchestrator) digest(content string) string {
	if o.hasher == nil {
		return ""
	}
	sum, err := o.hasher.Hash([]byte(content))
	if err != nil {
		return ""
	}
	return sum
}

// snippet bounds the raw text stored alongside a history item.
func snippet(content string) string {
	const max = 500
	content = strings.TrimSpace(content)
	if len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
