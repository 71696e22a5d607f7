package export

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/godseye/insight/internal/analysis"
	"github.com/godseye/insight/internal/history"
)

// Source yields the history items to export, newest first.
type Source interface {
	Query(filter history.Filter) iter.Seq[history.Item]
}

// Document is the export file layout.
type Document struct {
	ExportedAt string         `json:"exportedAt"`
	Count      int            `json:"count"`
	Items      []history.Item `json:"items"`
}

// Exporter writes history snapshots to a blob store.
type Exporter struct {
	source Source
	blobs  BlobStore
	clock  analysis.Clock
	logger *zap.Logger
}

// NewExporter wires a history source to a blob store.
func NewExporter(source Source, blobs BlobStore, clock analysis.Clock, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{source: source, blobs: blobs, clock: clock, logger: logger}
}

// Export snapshots the items matching the filter into one JSON blob and
// returns the blob name.
func (e *Exporter) Export(ctx context.Context, filter history.Filter) (string, error) {
	now := e.clock.Now()
	doc := Document{
		ExportedAt: now.Format("2006-01-02T15:04:05Z07:00"),
		Items:      []history.Item{},
	}
	for item := range e.source.Query(filter) {
		doc.Items = append(doc.Items, item)
	}
	doc.Count = len(doc.Items)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}

	name := fmt.Sprintf("insight-history-%s.json", now.Format("20060102T150405Z"))
	if err := e.blobs.Put(ctx, name, "application/json", data); err != nil {
		return "", fmt.Errorf("store export: %w", err)
	}
	e.logger.Info("history exported",
		zap.String("blob", name),
		zap.Int("items", doc.Count),
	)
	return name, nil
}
