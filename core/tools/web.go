package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebFetch retrieves a URL's body over HTTP(S), bounded by a timeout and a
// response-size cap. Implemented directly on net/http: no pack repo wires a
// higher-level HTTP client (retryablehttp, resty, ...), so the stdlib
// client is the grounded choice here rather than a fabricated dependency
// (see DESIGN.md).
type WebFetch struct {
	client  *http.Client
	maxBody int64
}

// NewWebFetch builds a WebFetch tool. timeout bounds one request;
// maxBodyBytes bounds how much of the response is read (0 defaults to 1MiB).
func NewWebFetch(timeout time.Duration, maxBodyBytes int64) *WebFetch {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &WebFetch{client: &http.Client{Timeout: timeout}, maxBody: maxBodyBytes}
}

func (WebFetch) Name() string        { return "web_fetch" }
func (WebFetch) Description() string { return "Fetch a URL's response body over HTTP(S)." }
func (WebFetch) InputSchema() json.RawMessage {
	return schema(`{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url": {"type": "string"},
			"method": {"type": "string"}
		}
	}`)
}

func (w *WebFetch) Execute(ctx context.Context, args map[string]any) (any, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("web_fetch: url is required")
	}
	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, w.maxBody))
	if err != nil {
		return nil, fmt.Errorf("web_fetch: reading response: %w", err)
	}
	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(body),
		"truncated":   resp.ContentLength > w.maxBody,
	}, nil
}

// WebSearchProvider is the capability a WebSearch tool delegates to; real
// deployments wire a search API client behind this interface.
type WebSearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]WebSearchResult, error)
}

// WebSearchResult is one ranked search hit.
type WebSearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearch performs a web search via an injected WebSearchProvider.
type WebSearch struct {
	provider WebSearchProvider
}

// NewWebSearch builds a WebSearch tool backed by provider.
func NewWebSearch(provider WebSearchProvider) *WebSearch {
	return &WebSearch{provider: provider}
}

func (WebSearch) Name() string        { return "web_search" }
func (WebSearch) Description() string { return "Search the web and return ranked results." }
func (WebSearch) InputSchema() json.RawMessage {
	return schema(`{
		"type": "object",
		"required": ["query"],
		"properties": {
			"query": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 50}
		}
	}`)
}

func (w *WebSearch) Execute(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("web_search: query is required")
	}
	limit := intArg(args, "limit", 10)
	results, err := w.provider.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("web_search: %w", err)
	}
	return map[string]any{"results": results, "count": len(results)}, nil
}
