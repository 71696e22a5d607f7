package fetcher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/godseye/insight/internal/analysis"
	"github.com/godseye/insight/internal/metrics"
)

// Default retry policy.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 2
	DefaultBackoffStep = 2 * time.Second
)

// SleepFunc waits for the duration or until the context is done, returning
// the context error in the latter case. Tests inject a fake to avoid
// wall-clock waits.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetcher wraps a Backend with per-attempt timeouts, bounded retries and a
// synthetic fallback. Fetch never returns an error: when every attempt is
// exhausted the caller gets a fabricated result instead.
type Fetcher struct {
	backend   analysis.Backend
	generator *Generator
	analytics analysis.AnalyticsSink
	logger    *zap.Logger

	timeout     time.Duration
	maxRetries  int
	backoffStep time.Duration
	sleep       SleepFunc
	forced      func() bool
	clock       analysis.Clock
}

// TypeSimple selects the backend's lightweight GET variant when it offers one.
const TypeSimple = "simple"

// SimpleBackend is implemented by backends that expose a lightweight
// URL-only analysis call alongside the full one.
type SimpleBackend interface {
	AnalyzeSimple(ctx context.Context, pageURL string) (analysis.Result, error)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithPolicy overrides the per-attempt timeout, retry count and backoff step.
func WithPolicy(timeout time.Duration, maxRetries int, backoffStep time.Duration) Option {
	return func(f *Fetcher) {
		f.timeout = timeout
		f.maxRetries = maxRetries
		f.backoffStep = backoffStep
	}
}

// WithSleep replaces the backoff sleeper.
func WithSleep(sleep SleepFunc) Option {
	return func(f *Fetcher) {
		f.sleep = sleep
	}
}

// WithForcedFallback installs a predicate consulted per call; when it returns
// true the backend is skipped entirely and the synthetic generator answers.
// It backs the mock-data runtime setting.
func WithForcedFallback(forced func() bool) Option {
	return func(f *Fetcher) {
		f.forced = forced
	}
}

// WithClock replaces the time source used to backfill result timestamps.
func WithClock(clock analysis.Clock) Option {
	return func(f *Fetcher) {
		f.clock = clock
	}
}

// New constructs a Fetcher around the backend and fallback generator.
func New(backend analysis.Backend, generator *Generator, sink analysis.AnalyticsSink, logger *zap.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		backend:     backend,
		generator:   generator,
		analytics:   sink,
		logger:      logger,
		timeout:     DefaultTimeout,
		maxRetries:  DefaultMaxRetries,
		backoffStep: DefaultBackoffStep,
		sleep:       sleepWithContext,
		clock:       wallClock{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch runs the backend call with retries and linear backoff. Malformed
// responses and context cancellation end the retry loop early; every failure
// path falls through to the synthetic generator.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, analysisType string) analysis.Result {
	if f.forced != nil && f.forced() {
		metrics.RecordSyntheticFallback()
		return f.generator.Generate(pageURL)
	}
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
		result, err := f.callBackend(attemptCtx, pageURL, analysisType)
		cancel()
		if err == nil {
			metrics.RecordFetchAttempt(true)
			result.Normalize()
			if result.TimestampMillis == 0 {
				result.TimestampMillis = f.clock.Now().UnixMilli()
			}
			return result
		}

		metrics.RecordFetchAttempt(false)
		f.logger.Warn("analysis attempt failed",
			zap.String("url", pageURL),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		f.report(pageURL, attempt+1, err)

		if errors.Is(err, ErrMalformed) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < f.maxRetries {
			delay := time.Duration(attempt+1) * f.backoffStep
			if f.sleep(ctx, delay) != nil {
				break
			}
		}
	}

	metrics.RecordSyntheticFallback()
	f.logger.Info("serving synthetic analysis", zap.String("url", pageURL))
	return f.generator.Generate(pageURL)
}

// callBackend routes the simple analysis type to the lightweight variant
// when the backend has one; everything else takes the full call.
func (f *Fetcher) callBackend(ctx context.Context, pageURL, analysisType string) (analysis.Result, error) {
	if analysisType == TypeSimple {
		if simple, ok := f.backend.(SimpleBackend); ok {
			return simple.AnalyzeSimple(ctx, pageURL)
		}
	}
	return f.backend.Analyze(ctx, pageURL, analysisType)
}

// report sends the failure event without ever disturbing the retry loop.
func (f *Fetcher) report(pageURL string, attempt int, err error) {
	if f.analytics == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	f.analytics.Record("api_failure", map[string]any{
		"url":     pageURL,
		"attempt": attempt,
		"error":   err.Error(),
	})
}
