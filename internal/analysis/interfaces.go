package analysis

import (
	"context"
	"time"
)

// Severity grades a user-facing message.
type Severity string

// Message severities.
const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Backend performs the remote analysis call. Implementations return an error
// for transport failures and malformed payloads; retry policy lives with the
// caller.
type Backend interface {
	Analyze(ctx context.Context, pageURL string, analysisType string) (Result, error)
}

// Notifier delivers a fire-and-forget user-facing message. There is no
// delivery confirmation.
type Notifier interface {
	Notify(ctx context.Context, title string, message string, severity Severity)
}

// AnalyticsSink records product events. Implementations must never block the
// caller and must swallow their own failures.
type AnalyticsSink interface {
	Record(event string, properties map[string]any)
}

// Hasher computes content digests for session-level dedup.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces history item IDs.
type IDGenerator interface {
	NewID() (string, error)
}
