package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/godseye/insight/internal/config"
)

func backendStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"title":   "Stubbed",
			"summary": "stub summary",
			"sentiment": map[string]any{
				"positive": 40, "negative": 30, "neutral": 30, "confidence": 0.8,
			},
			"bias":        map[string]any{"overall": 0.1, "type": "center"},
			"credibility": map[string]any{"status": "reliable", "trustScore": 0.7},
		})
	}))
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	backend := backendStub(t)
	t.Cleanup(backend.Close)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Backend.Endpoint = backend.URL
	cfg.Backend.SyntheticSeed = 1

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func TestAppWiresFullPipeline(t *testing.T) {
	a := newTestApp(t)
	handler := a.Server.Handler()

	content := strings.Repeat("substantive page text ", 10)
	body := `{"context_id":"tab-1","url":"https://example.com/story","title":"T","content":"` + content + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The analysis landed in history.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Count)

	// And in the cache.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/analyze?url=https%3A%2F%2Fexample.com%2Fstory", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppMockDataSetting(t *testing.T) {
	a := newTestApp(t)
	handler := a.Server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/v1/settings",
		strings.NewReader(`{"useMockData":true}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	content := strings.Repeat("substantive page text ", 10)
	body := `{"context_id":"tab-2","url":"https://example.com/mocked","content":"` + content + `"}`
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Synthetic bool `json:"synthetic"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Synthetic, "mock-data setting must bypass the backend")
}
