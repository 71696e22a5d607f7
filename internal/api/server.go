// Package api exposes the HTTP interface for the analysis service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/godseye/insight/internal/analysis"
	"github.com/godseye/insight/internal/history"
	"github.com/godseye/insight/internal/metrics"
	"github.com/godseye/insight/internal/orchestrator"
	"github.com/godseye/insight/internal/settings"
)

// Analyzer runs analyses and answers cache lookups.
type Analyzer interface {
	Analyze(ctx context.Context, req orchestrator.Request) (analysis.Result, error)
	GetCached(pageURL string) (analysis.Result, bool)
	Teardown(contextID string)
}

// HistoryStore serves and mutates the analysis history.
type HistoryStore interface {
	Query(filter history.Filter) iter.Seq[history.Item]
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Len() int
}

// Exporter snapshots the history into a blob.
type Exporter interface {
	Export(ctx context.Context, filter history.Filter) (string, error)
}

// SettingsManager reads and updates runtime settings.
type SettingsManager interface {
	Current() settings.Settings
	Update(ctx context.Context, mutate func(*settings.Settings)) error
}

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router   chi.Router
	analyzer Analyzer
	history  HistoryStore
	exporter Exporter
	settings SettingsManager
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	analyzer Analyzer,
	historyStore HistoryStore,
	exporter Exporter,
	settingsManager SettingsManager,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		analyzer: analyzer,
		history:  historyStore,
		exporter: exporter,
		settings: settingsManager,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", s.analyze)
		r.Get("/analyze", s.getCached)
		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.listHistory)
			r.Delete("/", s.clearHistory)
			r.Post("/export", s.exportHistory)
			r.Delete("/{item_id}", s.deleteHistoryItem)
		})
		r.Get("/settings", s.getSettings)
		r.Patch("/settings", s.updateSettings)
		r.Delete("/contexts/{context_id}", s.teardownContext)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type analyzeRequest struct {
	ContextID string `json:"context_id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	Trigger   string `json:"trigger"`
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	if req.ContextID == "" {
		req.ContextID = "default"
	}
	trigger := orchestrator.TriggerManual
	if req.Trigger == string(orchestrator.TriggerAuto) {
		trigger = orchestrator.TriggerAuto
	}

	result, err := s.analyzer.Analyze(r.Context(), orchestrator.Request{
		ContextID: req.ContextID,
		PageURL:   req.URL,
		Title:     req.Title,
		Content:   req.Content,
		Type:      req.Type,
		Trigger:   trigger,
	})
	if err != nil {
		writeError(w, analyzeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func analyzeStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrContentTooShort):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, orchestrator.ErrAutoDisabled):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) getCached(w http.ResponseWriter, r *http.Request) {
	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	result, ok := s.analyzer.GetCached(pageURL)
	if !ok {
		writeError(w, http.StatusNotFound, "no fresh analysis for url")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items := []history.Item{}
	for item := range s.history.Query(filter) {
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
		"total": s.history.Len(),
	})
}

func filterFromQuery(r *http.Request) (history.Filter, error) {
	q := r.URL.Query()
	filter := history.Filter{
		Text:        q.Get("q"),
		Sentiment:   analysis.SentimentClass(q.Get("sentiment")),
		Credibility: analysis.CredibilityStatus(q.Get("credibility")),
	}
	switch within := q.Get("within"); within {
	case "":
	case "week":
		filter.Within = history.WindowWeek
	case "month":
		filter.Within = history.WindowMonth
	default:
		return history.Filter{}, errors.New("within must be week or month")
	}
	return filter, nil
}

func (s *Server) deleteHistoryItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "item_id")
	if err := s.history.Delete(r.Context(), id); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "history item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) exportHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name, err := s.exporter.Export(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"blob": name})
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Current())
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	err := s.settings.Update(r.Context(), func(current *settings.Settings) {
		// Merge the patch over the current document field by field.
		merged, merr := json.Marshal(current)
		if merr != nil {
			return
		}
		var doc map[string]json.RawMessage
		if json.Unmarshal(merged, &doc) != nil {
			return
		}
		for k, v := range patch {
			doc[k] = v
		}
		full, merr := json.Marshal(doc)
		if merr != nil {
			return
		}
		var next settings.Settings
		if json.Unmarshal(full, &next) == nil {
			*current = next
		}
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.settings.Current())
}

func (s *Server) teardownContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "context_id")
	s.analyzer.Teardown(id)
	writeJSON(w, http.StatusOK, map[string]string{"context_id": id, "status": "removed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
