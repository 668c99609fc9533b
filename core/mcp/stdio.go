package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
)

// StdioClient implements Client over a subprocess's stdin/stdout, speaking
// newline-delimited JSON-RPC as spec.md §6.3 requires. Grounded on the
// teacher's Caller/CallRequest/CallResponse shape (runtime/mcp/caller.go),
// adapted from its HTTP-SSE transport to a framed-by-newline subprocess
// pipe.
type StdioClient struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	nextID int64

	mu      sync.Mutex
	pending map[int64]chan rpcResponse

	writeMu sync.Mutex
	readErr chan error
}

// NewStdioClient starts command with args; it does not perform the MCP
// initialize handshake (ListTools implicitly discovers the
// server's tools; servers that require an explicit "initialize" method
// should be started pre-initialized by the deployment).
func NewStdioClient(ctx context.Context, command string, args []string, env []string) (*StdioClient, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	if len(env) > 0 {
		cmd.Env = env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp stdio: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp stdio: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp stdio: starting %q: %w", command, err)
	}

	c := &StdioClient{
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[int64]chan rpcResponse),
		readErr: make(chan error, 1),
	}
	go c.readLoop(stdout)
	return c, nil
}

func (c *StdioClient) readLoop(stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	if err := scanner.Err(); err != nil {
		c.readErr <- err
	} else {
		c.readErr <- io.EOF
	}
}

func (c *StdioClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mcp stdio: marshal request: %w", err)
	}
	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	_, writeErr := c.stdin.Write(append(body, '\n'))
	c.writeMu.Unlock()
	if writeErr != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("mcp stdio: writing request: %w", writeErr)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case err := <-c.readErr:
		return nil, fmt.Errorf("mcp stdio: server process ended: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListTools implements Client.
func (c *StdioClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcp stdio: decoding tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool implements Client.
func (c *StdioClient) CallTool(ctx context.Context, tool string, args json.RawMessage) (CallResult, error) {
	params := map[string]any{"name": tool, "arguments": args}
	raw, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return CallResult{}, err
	}
	var result toolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return CallResult{}, fmt.Errorf("mcp stdio: decoding tools/call result: %w", err)
	}
	return CallResult{Text: result.text(), IsError: result.IsError, Structured: result.Structured}, nil
}

// Ping implements Client via a lightweight tools/list round trip; stdio MCP
// servers have no dedicated ping method.
func (c *StdioClient) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "tools/list", nil)
	return err
}

// Close implements Client, terminating the subprocess.
func (c *StdioClient) Close() error {
	_ = c.stdin.Close()
	return c.cmd.Process.Kill()
}
