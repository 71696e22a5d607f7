// Package fetcher performs the remote analysis call with bounded retries and
// a synthetic fallback so callers always receive a usable result.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/godseye/insight/internal/analysis"
)

// ErrMalformed marks a 2xx response whose body could not be interpreted.
// Malformed bodies are not transient and are never retried.
var ErrMalformed = errors.New("malformed backend response")

// HTTPBackend calls the analysis API over HTTP.
type HTTPBackend struct {
	endpoint string
	client   *http.Client
}

// NewHTTPBackend constructs a backend client for the endpoint. The client's
// own timeout stays unset; per-attempt deadlines come from the caller's
// context.
func NewHTTPBackend(endpoint string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPBackend{endpoint: endpoint, client: client}
}

type analyzeRequest struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	Enhanced bool   `json:"enhanced"`
}

// payload mirrors the wire format. The pointer sections are required; a 2xx
// body missing any of them counts as malformed.
type payload struct {
	URL         string                `json:"url"`
	Title       string                `json:"title"`
	Summary     *string               `json:"summary"`
	Sentiment   *analysis.Sentiment   `json:"sentiment"`
	Bias        *analysis.Bias        `json:"bias"`
	Credibility *analysis.Credibility `json:"credibility"`
	FactCheck   *analysis.FactCheck   `json:"factCheck"`
}

// Analyze posts the enhanced analysis request and decodes the result.
func (b *HTTPBackend) Analyze(ctx context.Context, pageURL string, analysisType string) (analysis.Result, error) {
	body, err := json.Marshal(analyzeRequest{URL: pageURL, Type: analysisType, Enhanced: true})
	if err != nil {
		return analysis.Result{}, fmt.Errorf("marshal analyze request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return analysis.Result{}, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req, pageURL)
}

// AnalyzeSimple requests the GET variant of the analyze endpoint.
func (b *HTTPBackend) AnalyzeSimple(ctx context.Context, pageURL string) (analysis.Result, error) {
	u := fmt.Sprintf("%s?url=%s", b.endpoint, url.QueryEscape(pageURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("build analyze request: %w", err)
	}
	return b.do(req, pageURL)
}

func (b *HTTPBackend) do(req *http.Request, pageURL string) (analysis.Result, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("analyze call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return analysis.Result{}, fmt.Errorf("analyze call: unexpected status %d", resp.StatusCode)
	}

	var p payload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return analysis.Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Summary == nil || p.Sentiment == nil || p.Bias == nil || p.Credibility == nil {
		return analysis.Result{}, fmt.Errorf("%w: missing required sections", ErrMalformed)
	}

	result := analysis.Result{
		URL:         pageURL,
		Title:       p.Title,
		Summary:     *p.Summary,
		Sentiment:   *p.Sentiment,
		Bias:        *p.Bias,
		Credibility: *p.Credibility,
	}
	if p.URL != "" {
		result.URL = p.URL
	}
	if p.FactCheck != nil {
		result.FactCheck = *p.FactCheck
	}
	return result, nil
}
