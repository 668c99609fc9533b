package tools_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/core/tools"
)

func TestRegistryListAndDescribe(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(tools.FileRead{}))
	require.NoError(t, r.Register(tools.FileWrite{}))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "file_read", list[0].Name)
	assert.Equal(t, "file_write", list[1].Name)

	desc, ok := r.Describe("file_read")
	require.True(t, ok)
	assert.Equal(t, "builtin", desc.Source)
}

func TestRegistryMCPQualifiesName(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.RegisterMCP("github", tools.FileRead{}))

	desc, ok := r.Describe("github:file_read")
	require.True(t, ok)
	assert.Equal(t, "mcp:github", desc.Source)
}

func TestRegistryValidateRejectsMissingRequired(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(tools.FileRead{}))

	err := r.Validate("file_read", map[string]any{})
	assert.Error(t, err)
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := tools.NewRegistry()
	_, err := r.Execute(context.Background(), "nonexistent", nil)
	assert.Error(t, err)
}

func TestFileWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	r := tools.NewRegistry()
	require.NoError(t, r.Register(tools.FileWrite{}))
	require.NoError(t, r.Register(tools.FileRead{}))

	_, err := r.Execute(context.Background(), "file_write", map[string]any{"path": path, "content": "line one\nline two\n"})
	require.NoError(t, err)

	result, err := r.Execute(context.Background(), "file_read", map[string]any{"path": path})
	require.NoError(t, err)
	res := result.(map[string]any)
	assert.Equal(t, 2, res["line_count"])
}

func TestFileEditRejectsAmbiguousMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\na\n"), 0o644))

	edit := tools.FileEdit{}
	_, err := edit.Execute(context.Background(), map[string]any{"path": path, "old_text": "a", "new_text": "b"})
	assert.Error(t, err)

	result, err := edit.Execute(context.Background(), map[string]any{"path": path, "old_text": "a", "new_text": "b", "replace_all": true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.(map[string]any)["replacements"])
}

func TestShellExecDeniesCommand(t *testing.T) {
	s := tools.NewShellExec([]string{"rm"}, nil, 0)
	_, err := s.Execute(context.Background(), map[string]any{"command": "rm -rf /"})
	assert.Error(t, err)
}

func TestShellExecAllowListRejectsOutsideSet(t *testing.T) {
	s := tools.NewShellExec(nil, []string{"echo"}, 0)
	_, err := s.Execute(context.Background(), map[string]any{"command": "cat /etc/hosts"})
	assert.Error(t, err)
}

func TestShellExecRunsAllowedCommand(t *testing.T) {
	s := tools.NewShellExec(nil, []string{"echo"}, 0)
	result, err := s.Execute(context.Background(), map[string]any{"command": "echo hello"})
	require.NoError(t, err)
	res := result.(map[string]any)
	assert.Equal(t, 0, res["exit_code"])
}

type fakeSubtaskRunner struct {
	result     string
	childRunID string
}

func (f *fakeSubtaskRunner) RunSubtask(_ context.Context, _ string, _ string, _ []string) (string, string, error) {
	return f.result, f.childRunID, nil
}

func TestSubtaskDelegateReturnsChildRunID(t *testing.T) {
	runner := &fakeSubtaskRunner{result: "done", childRunID: "run-child-1"}
	delegate := tools.NewSubtaskDelegate(runner, "run-parent-1")

	result, err := delegate.Execute(context.Background(), map[string]any{"prompt": "summarize the file"})
	require.NoError(t, err)
	res := result.(map[string]any)
	assert.Equal(t, "done", res["result"])
	assert.Equal(t, "run-child-1", res["child_run_id"])
}
