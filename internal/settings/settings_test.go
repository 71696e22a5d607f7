package settings

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/godseye/insight/internal/storage"
)

func TestManagerSeedsDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryProvider()

	m, err := NewManager(ctx, store, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	if got := m.Current(); got != Defaults() {
		t.Fatalf("expected defaults, got %+v", got)
	}

	// Seeding is durable.
	raw, err := store.Get(ctx, storage.AreaSettings, []string{Key})
	if err != nil || len(raw) != 1 {
		t.Fatalf("expected persisted settings, got %v err=%v", raw, err)
	}
}

func TestManagerLoadsExisting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryProvider()
	seeded := Settings{Notifications: false, HistoryLimit: 50, TrackHistory: true}
	raw, _ := json.Marshal(seeded)
	if err := store.Set(ctx, storage.AreaSettings, map[string]json.RawMessage{Key: raw}); err != nil {
		t.Fatalf("seed error = %v", err)
	}

	m, err := NewManager(ctx, store, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	if m.NotificationsEnabled() {
		t.Fatal("expected notifications disabled from stored settings")
	}
	if m.Current().HistoryLimit != 50 {
		t.Fatalf("expected stored history limit, got %d", m.Current().HistoryLimit)
	}
}

func TestManagerTracksExternalChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryProvider()

	m, err := NewManager(ctx, store, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	next := Defaults()
	next.Notifications = false
	raw, _ := json.Marshal(next)
	if err := store.Set(ctx, storage.AreaSettings, map[string]json.RawMessage{Key: raw}); err != nil {
		t.Fatalf("external Set() error = %v", err)
	}

	if m.NotificationsEnabled() {
		t.Fatal("expected manager to observe external disable")
	}
}

func TestManagerUpdatePersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryProvider()

	m, err := NewManager(ctx, store, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	if err := m.Update(ctx, func(s *Settings) { s.AutoAnalysis = false }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err := store.Get(ctx, storage.AreaSettings, []string{Key})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var stored Settings
	if err := json.Unmarshal(got[Key], &stored); err != nil {
		t.Fatalf("unmarshal stored settings: %v", err)
	}
	if stored.AutoAnalysis {
		t.Fatal("expected update persisted write-through")
	}
}
