package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPClient implements Client by POSTing JSON-RPC requests to a single MCP
// HTTP endpoint, following the request/response envelope shape of the
// teacher's SSECaller (runtime/mcp/ssecaller.go) without its event-stream
// framing: spec.md §6.3 only requires an HTTP transport, not
// specifically SSE, so this uses a plain request/response POST.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	headers  map[string]string
	nextID   int64
}

// NewHTTPClient builds an HTTPClient against endpoint. timeout bounds each
// request; headers are sent on every call (e.g. Authorization).
func NewHTTPClient(endpoint string, timeout time.Duration, headers map[string]string) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{endpoint: endpoint, client: &http.Client{Timeout: timeout}, headers: headers}
}

func (c *HTTPClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mcp http: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mcp http: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mcp http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mcp http: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mcp http: status %d: %s", resp.StatusCode, string(raw))
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("mcp http: decoding response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// ListTools implements Client.
func (c *HTTPClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcp http: decoding tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool implements Client.
func (c *HTTPClient) CallTool(ctx context.Context, tool string, args json.RawMessage) (CallResult, error) {
	params := map[string]any{"name": tool, "arguments": args}
	raw, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return CallResult{}, err
	}
	var result toolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return CallResult{}, fmt.Errorf("mcp http: decoding tools/call result: %w", err)
	}
	return CallResult{Text: result.text(), IsError: result.IsError, Structured: result.Structured}, nil
}

// Ping implements Client with a lightweight tools/list round trip.
func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "tools/list", nil)
	return err
}

// Close implements Client; the HTTP client owns no persistent connection
// that needs explicit teardown beyond what http.Client's transport pool
// already manages.
func (c *HTTPClient) Close() error { return nil }
