// Package history implements the append-only, deduplicated analysis log
// persisted in the durable key-value store.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/godseye/insight/internal/analysis"
	"github.com/godseye/insight/internal/metrics"
	"github.com/godseye/insight/internal/storage"
)

// StorageKey is the document key holding the serialized history.
const StorageKey = "analysisHistory"

// Defaults.
const (
	DefaultCapacity         = 1000
	DefaultAnalysisCapacity = 100
	DefaultDedupWindow      = time.Hour
)

// ErrNotFound is returned when deleting an unknown item.
var ErrNotFound = errors.New("history item not found")

// Item is one retained analysis. Older items past the analysis-retention
// horizon keep only the tracking fields; Analysis is nil for them.
type Item struct {
	ID              string           `json:"id"`
	URL             string           `json:"url"`
	Title           string           `json:"title"`
	Content         string           `json:"content,omitempty"`
	TimestampMillis int64            `json:"timestamp"`
	Analysis        *analysis.Result `json:"analysis,omitempty"`
}

// Timestamp converts TimestampMillis to a time.Time.
func (i Item) Timestamp() time.Time {
	return time.UnixMilli(i.TimestampMillis).UTC()
}

// Config bounds the store.
type Config struct {
	// Capacity is the total number of items retained (FIFO eviction).
	Capacity int
	// AnalysisCapacity is the number of newest items keeping the full
	// analysis payload; older items are reduced to raw tracking rows.
	AnalysisCapacity int
	// DedupWindow collapses repeat appends for the same URL; the first item
	// within the window wins.
	DedupWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.AnalysisCapacity <= 0 {
		c.AnalysisCapacity = DefaultAnalysisCapacity
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
}

// Store holds the history in memory, sorted oldest-first, and writes every
// mutation through to the durable store before reporting success. All
// mutating paths run under one mutex so the dedup check-then-insert is
// atomic per URL.
type Store struct {
	cfg       Config
	store     storage.Provider
	clock     analysis.Clock
	ids       analysis.IDGenerator
	analytics analysis.AnalyticsSink
	logger    *zap.Logger

	gate  chan struct{}
	items []Item
}

// NewStore loads any persisted history and returns a ready Store.
func NewStore(
	ctx context.Context,
	cfg Config,
	provider storage.Provider,
	clock analysis.Clock,
	ids analysis.IDGenerator,
	sink analysis.AnalyticsSink,
	logger *zap.Logger,
) (*Store, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		cfg:       cfg,
		store:     provider,
		clock:     clock,
		ids:       ids,
		analytics: sink,
		logger:    logger,
		gate:      make(chan struct{}, 1),
	}
	got, err := provider.Get(ctx, storage.AreaHistory, []string{StorageKey})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if raw, ok := got[StorageKey]; ok {
		if err := json.Unmarshal(raw, &s.items); err != nil {
			logger.Warn("persisted history unreadable, starting empty", zap.Error(err))
			s.items = nil
		}
		sort.SliceStable(s.items, func(i, j int) bool {
			return s.items[i].TimestampMillis < s.items[j].TimestampMillis
		})
	}
	metrics.SetHistorySize(len(s.items))
	return s, nil
}

// Append records a new analysis unless a live item for the same URL exists
// inside the dedup window. It returns true when the item was stored; a false
// with nil error means the append was collapsed into the existing item.
// Persist failures leave memory untouched, so retrying is safe.
func (s *Store) Append(ctx context.Context, item Item) (bool, error) {
	s.lock()
	defer s.unlock()

	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.DedupWindow).UnixMilli()
	for _, existing := range s.items {
		if existing.URL == item.URL && existing.TimestampMillis > cutoff {
			return false, nil
		}
	}

	if item.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return false, fmt.Errorf("generate history id: %w", err)
		}
		item.ID = id
	}
	if item.TimestampMillis == 0 {
		item.TimestampMillis = now.UnixMilli()
	}

	next := append(append([]Item(nil), s.items...), item)
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].TimestampMillis < next[j].TimestampMillis
	})
	if excess := len(next) - s.cfg.Capacity; excess > 0 {
		next = next[excess:]
	}
	pruneAnalyses(next, s.cfg.AnalysisCapacity)

	if err := s.persist(ctx, next); err != nil {
		return false, err
	}
	s.items = next
	metrics.SetHistorySize(len(s.items))
	return true, nil
}

// Delete removes one item by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.lock()
	defer s.unlock()

	idx := -1
	for i, item := range s.items {
		if item.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	next := append(append([]Item(nil), s.items[:idx]...), s.items[idx+1:]...)
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.items = next
	metrics.SetHistorySize(len(s.items))
	return nil
}

// Clear drops the entire history.
func (s *Store) Clear(ctx context.Context) error {
	s.lock()
	defer s.unlock()

	if err := s.persist(ctx, []Item{}); err != nil {
		return err
	}
	s.items = nil
	metrics.SetHistorySize(0)
	return nil
}

// Len reports how many items are retained.
func (s *Store) Len() int {
	s.lock()
	defer s.unlock()
	return len(s.items)
}

// Query returns a restartable sequence of items matching the filter, newest
// first. The sequence iterates over a snapshot, so it stays stable while the
// store keeps mutating.
func (s *Store) Query(filter Filter) iter.Seq[Item] {
	s.lock()
	snapshot := make([]Item, len(s.items))
	copy(snapshot, s.items)
	now := s.clock.Now()
	s.unlock()

	return func(yield func(Item) bool) {
		for i := len(snapshot) - 1; i >= 0; i-- {
			item := snapshot[i]
			if !filter.matches(item, now) {
				continue
			}
			if !yield(item) {
				return
			}
		}
	}
}

func (s *Store) persist(ctx context.Context, items []Item) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := s.store.Set(ctx, storage.AreaHistory, map[string]json.RawMessage{StorageKey: raw}); err != nil {
		s.report("history_persist_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}

func (s *Store) report(event string, properties map[string]any) {
	if s.analytics == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.analytics.Record(event, properties)
}

// lock/unlock use a channel so the critical section stays cancellable if the
// need ever arises; today callers always block.
func (s *Store) lock()   { s.gate <- struct{}{} }
func (s *Store) unlock() { <-s.gate }

// pruneAnalyses strips the full analysis payload from all but the newest
// keep items. The slice is sorted oldest-first.
func pruneAnalyses(items []Item, keep int) {
	for i := 0; i < len(items)-keep; i++ {
		items[i].Analysis = nil
	}
}
