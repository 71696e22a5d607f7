package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

const (
	defaultBufferSize  = 1024
	defaultPublishWait = 10 * time.Second
)

// Publisher is the slice of the Pub/Sub topic API the sink uses; topics and
// test fakes both satisfy it.
type Publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// PubSubSink forwards events to a Google Cloud Pub/Sub topic from a
// background goroutine. Record never blocks; when the buffer is full the
// event is dropped and counted, which is acceptable for best-effort
// analytics.
type PubSubSink struct {
	topic  Publisher
	events chan Event
	logger *zap.Logger

	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}

	mu      sync.Mutex
	dropped int64
}

// NewPubSubSink starts the background publishing loop.
func NewPubSubSink(topic Publisher, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PubSubSink{
		topic:  topic,
		events: make(chan Event, defaultBufferSize),
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.run()
	return s
}

// Connect opens a Pub/Sub client for the project/topic pair and returns a
// sink publishing to it.
func Connect(ctx context.Context, projectID, topicName string, logger *zap.Logger) (*PubSubSink, error) {
	if projectID == "" || topicName == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return NewPubSubSink(client.Topic(topicName), logger), nil
}

// Record enqueues the event for publishing. It never blocks the caller.
func (s *PubSubSink) Record(event string, properties map[string]any) {
	select {
	case s.events <- Event{Name: event, Properties: properties}:
	default:
		s.mu.Lock()
		s.dropped++
		dropped := s.dropped
		s.mu.Unlock()
		if dropped%100 == 1 {
			s.logger.Warn("analytics events dropped due to backpressure", zap.Int64("dropped", dropped))
		}
	}
}

// Close drains buffered events and stops the background loop.
func (s *PubSubSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.stopCh) })
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("analytics sink close wait: %w", ctx.Err())
	}
}

func (s *PubSubSink) run() {
	defer close(s.doneCh)
	for {
		select {
		case evt := <-s.events:
			s.publish(evt)
		case <-s.stopCh:
			for {
				select {
				case evt := <-s.events:
					s.publish(evt)
				default:
					return
				}
			}
		}
	}
}

func (s *PubSubSink) publish(evt Event) {
	payload, err := json.Marshal(map[string]any{
		"event":      evt.Name,
		"properties": evt.Properties,
	})
	if err != nil {
		s.logger.Warn("marshal analytics event failed", zap.String("event", evt.Name), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishWait)
	defer cancel()
	result := s.topic.Publish(ctx, &pubsub.Message{Data: payload})
	if _, err := result.Get(ctx); err != nil {
		s.logger.Warn("publish analytics event failed", zap.String("event", evt.Name), zap.Error(err))
	}
}
