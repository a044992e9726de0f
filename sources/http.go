// Package sources provides KnowledgeSource implementations backed by
// external retrieval services. The theory service answers from a chemistry
// ontology; the literature service retrieves from an indexed paper corpus.
// Both speak the same JSON query protocol, so a single client covers them.
package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solventlab/des-agent-go/core"
)

// DefaultTimeout bounds a single retrieval round-trip.
const DefaultTimeout = 30 * time.Second

// HTTPSource queries a remote retrieval service over HTTP.
type HTTPSource struct {
	name       string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu       sync.Mutex
	lastErr  error
	degraded bool
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.httpClient = c }
}

// WithLogger sets the logger used for retrieval diagnostics.
func WithLogger(logger *zap.Logger) HTTPOption {
	return func(s *HTTPSource) { s.logger = logger }
}

// NewHTTPSource creates a knowledge source that POSTs queries to
// baseURL/query and checks health at baseURL/status. The name labels
// results so downstream consumers can attribute evidence.
func NewHTTPSource(name, baseURL string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the source label attached to results.
func (s *HTTPSource) Name() string { return s.name }

type queryPayload struct {
	Query   string            `json:"query"`
	Focus   []string          `json:"focus,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
	TopK    int               `json:"top_k,omitempty"`
}

type queryResponse struct {
	Content    string            `json:"content"`
	References []string          `json:"references,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Query sends the request to the retrieval service. An empty response
// body or blank content means the service had nothing relevant, which
// is reported as (nil, nil) rather than an error.
func (s *HTTPSource) Query(ctx context.Context, req *core.KnowledgeRequest) (*core.KnowledgeResult, error) {
	if req == nil {
		req = &core.KnowledgeRequest{}
	}
	payload := queryPayload{
		Query:   req.Query,
		Focus:   req.Focus,
		Filters: req.Filters,
		TopK:    req.TopK,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		s.recordFailure(err)
		return nil, fmt.Errorf("query %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		s.recordSuccess()
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("query %s: unexpected status %d", s.name, resp.StatusCode)
		s.recordFailure(err)
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		s.recordFailure(err)
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed queryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		s.recordFailure(err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	s.recordSuccess()

	if strings.TrimSpace(parsed.Content) == "" {
		return nil, nil
	}
	return &core.KnowledgeResult{
		Source:     s.name,
		Content:    parsed.Content,
		References: parsed.References,
		Metadata:   parsed.Metadata,
	}, nil
}

// Status reports availability based on a health probe, falling back to
// the outcome of the most recent query when the probe itself fails.
func (s *HTTPSource) Status(ctx context.Context) core.SourceStatus {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/status", nil)
	if err != nil {
		return core.SourceUnavailable
	}
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		s.logger.Debug("status probe failed",
			zap.String("source", s.name),
			zap.Error(err))
		return core.SourceUnavailable
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return core.SourceDegraded
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return core.SourceDegraded
	}
	return core.SourceAvailable
}

func (s *HTTPSource) recordFailure(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.degraded = true
	s.mu.Unlock()
	s.logger.Warn("knowledge query failed",
		zap.String("source", s.name),
		zap.Error(err))
}

func (s *HTTPSource) recordSuccess() {
	s.mu.Lock()
	s.lastErr = nil
	s.degraded = false
	s.mu.Unlock()
}
