package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/godseye/insight/internal/analysis"
	"github.com/godseye/insight/internal/history"
	"github.com/godseye/insight/internal/orchestrator"
	"github.com/godseye/insight/internal/settings"
)

type fakeAnalyzer struct {
	analyzeErr error
	cached     map[string]analysis.Result
	tornDown   []string
	lastReq    orchestrator.Request
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req orchestrator.Request) (analysis.Result, error) {
	f.lastReq = req
	if f.analyzeErr != nil {
		return analysis.Result{}, f.analyzeErr
	}
	return analysis.Result{URL: req.PageURL, Title: "Analyzed"}, nil
}

func (f *fakeAnalyzer) GetCached(pageURL string) (analysis.Result, bool) {
	result, ok := f.cached[pageURL]
	return result, ok
}

func (f *fakeAnalyzer) Teardown(contextID string) {
	f.tornDown = append(f.tornDown, contextID)
}

type fakeHistory struct {
	items     []history.Item
	deleteErr error
	cleared   bool
	deleted   []string
	gotFilter history.Filter
}

func (f *fakeHistory) Query(filter history.Filter) iter.Seq[history.Item] {
	f.gotFilter = filter
	return func(yield func(history.Item) bool) {
		for _, item := range f.items {
			if !yield(item) {
				return
			}
		}
	}
}

func (f *fakeHistory) Delete(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeHistory) Clear(ctx context.Context) error {
	f.cleared = true
	return nil
}

func (f *fakeHistory) Len() int { return len(f.items) }

type fakeExporter struct {
	name string
	err  error
}

func (f *fakeExporter) Export(ctx context.Context, filter history.Filter) (string, error) {
	return f.name, f.err
}

type fakeSettings struct {
	current settings.Settings
}

func (f *fakeSettings) Current() settings.Settings { return f.current }

func (f *fakeSettings) Update(ctx context.Context, mutate func(*settings.Settings)) error {
	mutate(&f.current)
	return nil
}

type testDeps struct {
	analyzer *fakeAnalyzer
	history  *fakeHistory
	exporter *fakeExporter
	settings *fakeSettings
}

func newTestServer(t *testing.T) (*Server, *testDeps) {
	t.Helper()
	deps := &testDeps{
		analyzer: &fakeAnalyzer{cached: map[string]analysis.Result{}},
		history:  &fakeHistory{},
		exporter: &fakeExporter{name: "snapshot.json"},
		settings: &fakeSettings{current: settings.Defaults()},
	}
	return NewServer(deps.analyzer, deps.history, deps.exporter, deps.settings, zap.NewNop()), deps
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusOK, doRequest(t, s, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, s, http.MethodGet, "/readyz", "").Code)
	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAnalyzeEndpoint(t *testing.T) {
	s, deps := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/analyze",
		`{"context_id":"tab-9","url":"https://example.com/a","title":"T","content":"body text","trigger":"auto"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tab-9", deps.analyzer.lastReq.ContextID)
	assert.Equal(t, orchestrator.TriggerAuto, deps.analyzer.lastReq.Trigger)

	var result analysis.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "https://example.com/a", result.URL)
}

func TestAnalyzeEndpointDefaults(t *testing.T) {
	s, deps := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/analyze",
		`{"url":"https://example.com/a","content":"body"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "default", deps.analyzer.lastReq.ContextID)
	assert.Equal(t, orchestrator.TriggerManual, deps.analyzer.lastReq.Trigger)
}

func TestAnalyzeEndpointValidation(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, s, http.MethodPost, "/v1/analyze", `{bad`).Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, s, http.MethodPost, "/v1/analyze", `{"content":"x"}`).Code)
}

func TestAnalyzeEndpointErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{orchestrator.ErrContentTooShort, http.StatusUnprocessableEntity},
		{orchestrator.ErrBusy, http.StatusConflict},
		{orchestrator.ErrThrottled, http.StatusTooManyRequests},
		{orchestrator.ErrAutoDisabled, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s, deps := newTestServer(t)
		deps.analyzer.analyzeErr = tc.err
		rec := doRequest(t, s, http.MethodPost, "/v1/analyze", `{"url":"https://e.com","content":"x"}`)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestGetCachedEndpoint(t *testing.T) {
	s, deps := newTestServer(t)
	deps.analyzer.cached["https://example.com/hit"] = analysis.Result{URL: "https://example.com/hit"}

	assert.Equal(t, http.StatusOK,
		doRequest(t, s, http.MethodGet, "/v1/analyze?url=https%3A%2F%2Fexample.com%2Fhit", "").Code)
	assert.Equal(t, http.StatusNotFound,
		doRequest(t, s, http.MethodGet, "/v1/analyze?url=https%3A%2F%2Fexample.com%2Fmiss", "").Code)
	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, s, http.MethodGet, "/v1/analyze", "").Code)
}

func TestListHistory(t *testing.T) {
	s, deps := newTestServer(t)
	deps.history.items = []history.Item{
		{ID: "h2", URL: "https://example.com/b", TimestampMillis: 2000},
		{ID: "h1", URL: "https://example.com/a", TimestampMillis: 1000},
	}

	rec := doRequest(t, s, http.MethodGet, "/v1/history?q=example&sentiment=positive&within=week", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []history.Item `json:"items"`
		Count int            `json:"count"`
		Total int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "example", deps.history.gotFilter.Text)
	assert.Equal(t, analysis.SentimentPositive, deps.history.gotFilter.Sentiment)
	assert.Equal(t, history.WindowWeek, deps.history.gotFilter.Within)
}

func TestListHistoryRejectsBadWindow(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, s, http.MethodGet, "/v1/history?within=year", "").Code)
}

func TestDeleteHistoryItem(t *testing.T) {
	s, deps := newTestServer(t)

	rec := doRequest(t, s, http.MethodDelete, "/v1/history/h1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"h1"}, deps.history.deleted)

	deps.history.deleteErr = history.ErrNotFound
	rec = doRequest(t, s, http.MethodDelete, "/v1/history/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearHistory(t *testing.T) {
	s, deps := newTestServer(t)
	rec := doRequest(t, s, http.MethodDelete, "/v1/history/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, deps.history.cleared)
}

func TestExportHistory(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/history/export", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "snapshot.json", body["blob"])
}

func TestSettingsRoundTrip(t *testing.T) {
	s, deps := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var current settings.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	assert.True(t, current.AutoAnalysis)

	rec = doRequest(t, s, http.MethodPatch, "/v1/settings", `{"autoAnalysis":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, deps.settings.current.AutoAnalysis)
	assert.True(t, deps.settings.current.Notifications, "untouched fields keep their values")
}

func TestTeardownContext(t *testing.T) {
	s, deps := newTestServer(t)
	rec := doRequest(t, s, http.MethodDelete, "/v1/contexts/tab-3", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"tab-3"}, deps.analyzer.tornDown)
}
