// Package notify delivers user-facing messages and schedules the delayed
// follow-up cascade after an analysis completes.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/godseye/insight/internal/analysis"
)

// LogNotifier writes notifications as structured log lines. It is the
// delivery channel for headless deployments.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier wires a zap logger to the Notifier interface.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the message at a level matching its severity.
func (n *LogNotifier) Notify(ctx context.Context, title string, message string, severity analysis.Severity) {
	fields := []zap.Field{
		zap.String("title", title),
		zap.String("severity", string(severity)),
	}
	switch severity {
	case analysis.SeverityError:
		n.logger.Error(message, fields...)
	case analysis.SeverityWarning:
		n.logger.Warn(message, fields...)
	default:
		n.logger.Info(message, fields...)
	}
}

// Notification is one captured message.
type Notification struct {
	Title    string
	Message  string
	Severity analysis.Severity
}

// MemoryNotifier captures notifications for assertions in tests.
type MemoryNotifier struct {
	mu       sync.Mutex
	captured []Notification
}

// NewMemoryNotifier constructs an empty MemoryNotifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

// Notify records the message.
func (n *MemoryNotifier) Notify(ctx context.Context, title string, message string, severity analysis.Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.captured = append(n.captured, Notification{Title: title, Message: message, Severity: severity})
}

// All returns a copy of every captured notification.
func (n *MemoryNotifier) All() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.captured))
	copy(out, n.captured)
	return out
}
