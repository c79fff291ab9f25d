package retriever

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	pkgctx "github.com/ricesearch/rice-eval/internal/pkg/context"
)

// ID schemes for search results.
const (
	// IDFieldID uses the result's id field.
	IDFieldID = "id"

	// IDFieldSpan uses "path:start-end", which stays stable across reindexing.
	IDFieldSpan = "span"

	// IDFieldPath uses the file path, for file-level relevance judgements.
	IDFieldPath = "path"
)

// HTTPConfig configures the rice-search API retriever.
type HTTPConfig struct {
	// BaseURL is the base URL of the search API.
	BaseURL string

	// Store is the store to search.
	Store string

	// TopK is the number of results requested per query.
	TopK int

	// IDField selects how result ids are built: id, span or path.
	IDField string

	// Timeout is the request timeout.
	Timeout time.Duration

	// ConnectionID is sent as X-Connection-ID. If empty, one is derived from
	// the hostname.
	ConnectionID string

	// MaxConnsPerHost limits the total number of connections per host.
	MaxConnsPerHost int
}

// DefaultHTTPConfig returns sensible defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		BaseURL:         "http://localhost:8080",
		Store:           "default",
		TopK:            10,
		IDField:         IDFieldID,
		Timeout:         30 * time.Second,
		MaxConnsPerHost: 100,
	}
}

// HTTP retrieves ids from the rice-search REST API.
type HTTP struct {
	cfg          HTTPConfig
	httpClient   *http.Client
	connectionID string
}

// searchRequest is the body of POST /v1/stores/{store}/search.
type searchRequest struct {
	Query          string `json:"query"`
	TopK           int    `json:"top_k,omitempty"`
	IncludeContent bool   `json:"include_content,omitempty"`
}

// searchResult is a single search hit.
type searchResult struct {
	ID        string  `json:"id"`
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
	Total   int            `json:"total"`
}

// APIError represents an API error response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s: %s", e.Status, e.Code, e.Message)
}

// NewHTTP creates a retriever for the search API described by cfg.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	def := DefaultHTTPConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Store == "" {
		cfg.Store = def.Store
	}
	if cfg.TopK == 0 {
		cfg.TopK = def.TopK
	}
	if cfg.IDField == "" {
		cfg.IDField = def.IDField
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = def.MaxConnsPerHost
	}

	switch cfg.IDField {
	case IDFieldID, IDFieldSpan, IDFieldPath:
	default:
		return nil, fmt.Errorf("unknown id field %q (must be id, span or path)", cfg.IDField)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	connectionID := cfg.ConnectionID
	if connectionID == "" {
		connectionID = GenerateConnectionID()
	}

	// Evaluation runs keep up to workers requests in flight against one host.
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &HTTP{
		cfg:          cfg,
		connectionID: connectionID,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}, nil
}

// GenerateConnectionID creates a stable identifier for this machine so the
// search service can attribute evaluation traffic.
func GenerateConnectionID() string {
	parts := []string{"rice-eval"}
	if hostname, err := os.Hostname(); err == nil {
		parts = append(parts, hostname)
	}
	parts = append(parts, runtime.GOOS, runtime.GOARCH)

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:8])
}

// Retrieve implements evaluation.Retriever.
func (h *HTTP) Retrieve(ctx context.Context, query string) ([]string, error) {
	var resp searchResponse
	path := fmt.Sprintf("/v1/stores/%s/search", url.PathEscape(h.cfg.Store))
	if err := h.post(ctx, path, searchRequest{Query: query, TopK: h.cfg.TopK}, &resp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		ids = append(ids, h.resultID(r))
	}
	return ids, nil
}

func (h *HTTP) resultID(r searchResult) string {
	switch h.cfg.IDField {
	case IDFieldSpan:
		return fmt.Sprintf("%s:%d-%d", r.Path, r.StartLine, r.EndLine)
	case IDFieldPath:
		return r.Path
	default:
		return r.ID
	}
}

// post performs a POST request.
func (h *HTTP) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(h.cfg.BaseURL, "/")+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return h.do(req, result)
}

// do executes a request.
func (h *HTTP) do(req *http.Request, result any) error {
	if h.connectionID != "" {
		req.Header.Set("X-Connection-ID", h.connectionID)
	}
	if id := pkgctx.RunID(req.Context()); id != "" {
		req.Header.Set("X-Eval-Run-ID", id)
	}
	if id := pkgctx.QueryID(req.Context()); id != "" {
		req.Header.Set("X-Eval-Query-ID", id)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return apiErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
