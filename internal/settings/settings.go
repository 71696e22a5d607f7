// Package settings persists user preferences in the durable store and keeps
// a live snapshot that tracks external changes.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/godseye/insight/internal/storage"
)

// Key is the storage key holding the settings document.
const Key = "settings"

// Settings mirrors the user preference document.
type Settings struct {
	Notifications        bool `json:"notifications"`
	BrowserNotifications bool `json:"browserNotifications"`
	AutoAnalysis         bool `json:"autoAnalysis"`
	TrackHistory         bool `json:"trackHistory"`
	HistoryLimit         int  `json:"historyLimit"`
	Analytics            bool `json:"analytics"`
	UseMockData          bool `json:"useMockData"`
}

// Defaults returns the settings seeded on first run.
func Defaults() Settings {
	return Settings{
		Notifications:        true,
		BrowserNotifications: true,
		AutoAnalysis:         true,
		TrackHistory:         true,
		HistoryLimit:         1000,
		Analytics:            true,
		UseMockData:          false,
	}
}

// Manager owns the current settings snapshot. Reads are lock-cheap; writes go
// through the durable store, and changes committed by anyone (including other
// components sharing the store) are observed via the store subscription.
type Manager struct {
	store  storage.Provider
	logger *zap.Logger

	mu      sync.RWMutex
	current Settings

	unsubscribe func()
}

// NewManager loads or seeds the settings document and starts tracking
// changes.
func NewManager(ctx context.Context, store storage.Provider, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{store: store, logger: logger, current: Defaults()}

	got, err := store.Get(ctx, storage.AreaSettings, []string{Key})
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if raw, ok := got[Key]; ok {
		if err := json.Unmarshal(raw, &m.current); err != nil {
			logger.Warn("stored settings unreadable, reseeding defaults", zap.Error(err))
			m.current = Defaults()
		}
	} else if err := m.persist(ctx, m.current); err != nil {
		return nil, fmt.Errorf("seed default settings: %w", err)
	}

	m.unsubscribe = store.Subscribe(m.onChanged)
	return m, nil
}

// Current returns the settings snapshot.
func (m *Manager) Current() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// NotificationsEnabled reports the global notification gate.
func (m *Manager) NotificationsEnabled() bool {
	s := m.Current()
	return s.Notifications && s.BrowserNotifications
}

// Update applies mutate to a copy of the current settings and commits the
// result write-through.
func (m *Manager) Update(ctx context.Context, mutate func(*Settings)) error {
	m.mu.Lock()
	next := m.current
	m.mu.Unlock()

	mutate(&next)
	if err := m.persist(ctx, next); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = next
	m.mu.Unlock()
	return nil
}

// Close stops tracking store changes.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

func (m *Manager) persist(ctx context.Context, s Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := m.store.Set(ctx, storage.AreaSettings, map[string]json.RawMessage{Key: raw}); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	return nil
}

func (m *Manager) onChanged(area string, diff map[string]storage.Change) {
	if area != storage.AreaSettings {
		return
	}
	change, ok := diff[Key]
	if !ok || change.New == nil {
		return
	}
	var next Settings
	if err := json.Unmarshal(change.New, &next); err != nil {
		m.logger.Warn("ignoring malformed settings change", zap.Error(err))
		return
	}
	m.mu.Lock()
	m.current = next
	m.mu.Unlock()
}
