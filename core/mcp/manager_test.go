package mcp_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/core/coreerrors"
	"github.com/agentflow/orchestrator/core/mcp"
	"github.com/agentflow/orchestrator/core/tools"
)

type fakeClient struct {
	descriptors []mcp.ToolDescriptor
	callFunc    func(ctx context.Context, tool string, args json.RawMessage) (mcp.CallResult, error)
	pingErr     error
	closed      bool
}

func (f *fakeClient) ListTools(context.Context) ([]mcp.ToolDescriptor, error) {
	return f.descriptors, nil
}

func (f *fakeClient) CallTool(ctx context.Context, tool string, args json.RawMessage) (mcp.CallResult, error) {
	return f.callFunc(ctx, tool, args)
}

func (f *fakeClient) Ping(context.Context) error { return f.pingErr }
func (f *fakeClient) Close() error               { f.closed = true; return nil }

func TestManagerAddServerDiscoversTools(t *testing.T) {
	client := &fakeClient{descriptors: []mcp.ToolDescriptor{{Name: "search", Description: "search things"}}}
	mgr := mcp.NewManager(time.Second)
	require.NoError(t, mgr.AddServer(context.Background(), "github", client))

	index := mgr.ToolIndex()
	require.Len(t, index, 1)
	assert.Equal(t, "github:search", index[0].Name)
	assert.Equal(t, "mcp:github", index[0].Source)
}

func TestManagerRegisterAllQualifiesNames(t *testing.T) {
	client := &fakeClient{
		descriptors: []mcp.ToolDescriptor{{Name: "search"}},
		callFunc: func(ctx context.Context, tool string, args json.RawMessage) (mcp.CallResult, error) {
			return mcp.CallResult{Text: "ok"}, nil
		},
	}
	mgr := mcp.NewManager(time.Second)
	require.NoError(t, mgr.AddServer(context.Background(), "github", client))

	registry := tools.NewRegistry()
	require.NoError(t, mgr.RegisterAll(registry))

	desc, ok := registry.Describe("github:search")
	require.True(t, ok)
	assert.Equal(t, "mcp:github", desc.Source)

	result, err := registry.Execute(context.Background(), "github:search", map[string]any{"query": "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.(map[string]any)["text"])
}

func TestManagerCallToolTimesOutWithoutClosingConnection(t *testing.T) {
	client := &fakeClient{
		callFunc: func(ctx context.Context, tool string, args json.RawMessage) (mcp.CallResult, error) {
			<-ctx.Done()
			return mcp.CallResult{}, ctx.Err()
		},
	}
	mgr := mcp.NewManager(10 * time.Millisecond)
	require.NoError(t, mgr.AddServer(context.Background(), "slow", client))

	_, err := mgr.CallTool(context.Background(), "slow", "anything", nil)
	require.Error(t, err)
	assert.Equal(t, coreerrors.KindMCPTimeout, coreerrors.KindOf(err))
	assert.False(t, client.closed, "a request timeout must not close the server connection")
}

func TestManagerHealthCheckReportsPingErrors(t *testing.T) {
	failing := &fakeClient{pingErr: assertErr{"down"}}
	mgr := mcp.NewManager(time.Second)
	require.NoError(t, mgr.AddServer(context.Background(), "flaky", failing))

	results := mgr.HealthCheck(context.Background())
	require.Contains(t, results, "flaky")
	assert.Error(t, results["flaky"])
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
