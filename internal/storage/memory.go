package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryProvider keeps all data in process memory. It is the development and
// test implementation; durability ends with the process.
type MemoryProvider struct {
	mu        sync.RWMutex
	areas     map[string]map[string]json.RawMessage
	listeners map[int]Listener
	nextID    int
}

// NewMemoryProvider constructs an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		areas:     make(map[string]map[string]json.RawMessage),
		listeners: make(map[int]Listener),
	}
}

// Get returns the stored values for the requested keys; absent keys are
// simply omitted from the result.
func (p *MemoryProvider) Get(_ context.Context, area string, keys []string) (map[string]json.RawMessage, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(keys))
	bucket := p.areas[area]
	for _, key := range keys {
		if val, ok := bucket[key]; ok {
			out[key] = append(json.RawMessage(nil), val...)
		}
	}
	return out, nil
}

// Set stores every entry and notifies subscribers with the resulting diff.
func (p *MemoryProvider) Set(_ context.Context, area string, entries map[string]json.RawMessage) error {
	if len(entries) == 0 {
		return nil
	}
	p.mu.Lock()
	bucket := p.areas[area]
	if bucket == nil {
		bucket = make(map[string]json.RawMessage)
		p.areas[area] = bucket
	}
	diff := make(map[string]Change, len(entries))
	for key, val := range entries {
		old := bucket[key]
		copied := append(json.RawMessage(nil), val...)
		bucket[key] = copied
		diff[key] = Change{Key: key, Old: old, New: copied}
	}
	listeners := p.snapshotListenersLocked()
	p.mu.Unlock()

	notify(listeners, area, diff)
	return nil
}

// Remove deletes the keys and notifies subscribers. Removing an absent key is
// not an error and produces no diff entry.
func (p *MemoryProvider) Remove(_ context.Context, area string, keys []string) error {
	p.mu.Lock()
	bucket := p.areas[area]
	diff := make(map[string]Change)
	for _, key := range keys {
		old, ok := bucket[key]
		if !ok {
			continue
		}
		delete(bucket, key)
		diff[key] = Change{Key: key, Old: old}
	}
	listeners := p.snapshotListenersLocked()
	p.mu.Unlock()

	if len(diff) > 0 {
		notify(listeners, area, diff)
	}
	return nil
}

// Subscribe registers a change listener and returns its unsubscribe func.
func (p *MemoryProvider) Subscribe(fn Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// Close implements Provider; nothing to release.
func (p *MemoryProvider) Close(context.Context) error {
	return nil
}

func (p *MemoryProvider) snapshotListenersLocked() []Listener {
	out := make([]Listener, 0, len(p.listeners))
	for _, fn := range p.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []Listener, area string, diff map[string]Change) {
	for _, fn := range listeners {
		fn(area, diff)
	}
}
