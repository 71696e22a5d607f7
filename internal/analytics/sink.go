// Package analytics implements fire-and-forget product event sinks.
package analytics

import (
	"sync"

	"go.uber.org/zap"
)

// Event is one recorded product event.
type Event struct {
	Name       string
	Properties map[string]any
}

// LogSink writes events as structured log lines. It is the default sink for
// development and for deployments without a message broker.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Record logs the event. It never blocks and never fails the caller.
func (s *LogSink) Record(event string, properties map[string]any) {
	s.logger.Info("analytics event",
		zap.String("event", event),
		zap.Any("properties", properties),
	)
}

// Recorder is the sink contract shared by every implementation here.
type Recorder interface {
	Record(event string, properties map[string]any)
}

// GatedSink forwards events only while the gate allows it. It backs the
// user-facing analytics opt-out.
type GatedSink struct {
	inner   Recorder
	enabled func() bool
}

// Gated wraps a sink behind an enablement check evaluated per event.
func Gated(inner Recorder, enabled func() bool) *GatedSink {
	return &GatedSink{inner: inner, enabled: enabled}
}

// Record forwards or drops the event.
func (s *GatedSink) Record(event string, properties map[string]any) {
	if !s.enabled() {
		return
	}
	s.inner.Record(event, properties)
}

// MemorySink captures events for assertions in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends the event to the in-memory list.
func (s *MemorySink) Record(event string, properties map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{Name: event, Properties: properties})
}

// Events returns a copy of everything recorded so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Named returns the recorded events matching a name.
func (s *MemorySink) Named(name string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, evt := range s.events {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}
