package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/godseye/insight/internal/analysis"
	"github.com/godseye/insight/internal/metrics"
)

// Default cascade offsets, measured from the moment the analysis completes.
const (
	DefaultBiasDelay        = 10 * time.Second
	DefaultFactCheckDelay   = 15 * time.Second
	DefaultCredibilityDelay = 20 * time.Second
)

// BiasAlertThreshold is the absolute bias score above which the bias
// follow-up fires.
const BiasAlertThreshold = 0.7

// Gate reports whether notifications may currently be delivered. The gate is
// consulted at fire time, not at scheduling time, so a settings change while
// a cascade is pending takes effect.
type Gate interface {
	NotificationsEnabled() bool
}

// alwaysOn is the gate used when no settings manager is wired.
type alwaysOn struct{}

func (alwaysOn) NotificationsEnabled() bool { return true }

// Scheduler sends immediate announcements and runs the delayed follow-up
// cascade. Every scheduled message fires at most once and drops silently
// when suppressed or cancelled.
type Scheduler struct {
	notifier analysis.Notifier
	gate     Gate
	logger   *zap.Logger

	biasDelay        time.Duration
	factCheckDelay   time.Duration
	credibilityDelay time.Duration
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithDelays overrides the cascade offsets. Tests use millisecond delays so
// nothing waits on the wall clock.
func WithDelays(bias, factCheck, credibility time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.biasDelay = bias
		s.factCheckDelay = factCheck
		s.credibilityDelay = credibility
	}
}

// NewScheduler constructs a Scheduler. A nil gate means notifications are
// always allowed.
func NewScheduler(notifier analysis.Notifier, gate Gate, logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if gate == nil {
		gate = alwaysOn{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		notifier:         notifier,
		gate:             gate,
		logger:           logger,
		biasDelay:        DefaultBiasDelay,
		factCheckDelay:   DefaultFactCheckDelay,
		credibilityDelay: DefaultCredibilityDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Announce delivers an immediate message, subject to the gate.
func (s *Scheduler) Announce(ctx context.Context, title string, message string, severity analysis.Severity) {
	if !s.gate.NotificationsEnabled() {
		metrics.RecordNotification("suppressed")
		return
	}
	metrics.RecordNotification("delivered")
	s.notifier.Notify(ctx, title, message, severity)
}

// ScheduleCascade queues the delayed follow-ups for a completed analysis.
// Each follow-up checks its own condition against the result that triggered
// it; a result that trips none of the conditions schedules nothing.
func (s *Scheduler) ScheduleCascade(ctx context.Context, result analysis.Result) {
	if result.Bias.Overall > BiasAlertThreshold || result.Bias.Overall < -BiasAlertThreshold {
		s.after(ctx, s.biasDelay, "Bias alert", "high bias detected", analysis.SeverityWarning)
	}
	if result.HasFalseClaim() {
		s.after(ctx, s.factCheckDelay, "Fact check", "false claims detected", analysis.SeverityError)
	}
	if result.Credibility.Status == analysis.CredibilityQuestionable {
		s.after(ctx, s.credibilityDelay, "Source check", "source reliability unclear", analysis.SeverityWarning)
	}
}

// after fires the message once the delay elapses, unless the context is
// cancelled first or the gate suppresses it at fire time.
func (s *Scheduler) after(ctx context.Context, delay time.Duration, title string, message string, severity analysis.Severity) {
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			metrics.RecordNotification("cancelled")
			return
		case <-timer.C:
		}
		if !s.gate.NotificationsEnabled() {
			metrics.RecordNotification("suppressed")
			return
		}
		metrics.RecordNotification("delivered")
		s.notifier.Notify(ctx, title, message, severity)
	}()
}
