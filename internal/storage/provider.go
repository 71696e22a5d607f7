// Package storage defines the durable key-value store consumed by the
// history log and settings, with implementations for development and
// production.
package storage

import (
	"context"
	"encoding/json"
)

// Change describes one key transition committed to the store. Old or New is
// nil for creations and removals respectively.
type Change struct {
	Key string
	Old json.RawMessage
	New json.RawMessage
}

// Listener receives the diff of a committed mutation. Listeners run on the
// mutating goroutine after the commit succeeds; they must be quick and must
// not mutate the store reentrantly.
type Listener func(area string, diff map[string]Change)

// Provider is the durable key-value contract. Keys are namespaced by area
// (for example "history" or "settings"). All mutations are write-through:
// when Set or Remove returns nil the data is durable.
type Provider interface {
	Get(ctx context.Context, area string, keys []string) (map[string]json.RawMessage, error)
	Set(ctx context.Context, area string, entries map[string]json.RawMessage) error
	Remove(ctx context.Context, area string, keys []string) error
	Subscribe(fn Listener) (unsubscribe func())
	Close(ctx context.Context) error
}

// Well-known areas.
const (
	AreaHistory  = "history"
	AreaSettings = "settings"
)
