package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// schema is a tiny helper for the literal JSON schemas below; built-in
// tools keep their schemas inline since they never change at runtime,
// unlike MCP-sourced tools whose schemas arrive over the wire.
func schema(body string) json.RawMessage { return json.RawMessage(body) }

// FileRead reads a file's contents, optionally bounded to a line range.
type FileRead struct{}

func (FileRead) Name() string        { return "file_read" }
func (FileRead) Description() string { return "Read the contents of a file from the workspace." }
func (FileRead) InputSchema() json.RawMessage {
	return schema(`{
		"type": "object",
		"required": ["path"],
		"properties": {
			"path": {"type": "string"},
			"offset": {"type": "integer", "minimum": 0},
			"limit": {"type": "integer", "minimum": 1}
		}
	}`)
}

func (t FileRead) Execute(_ context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("file_read: path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file_read: %w", err)
	}
	defer f.Close()

	offset := intArg(args, "offset", 0)
	limit := intArg(args, "limit", 0)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	var lines []string
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= offset {
			continue
		}
		lines = append(lines, scanner.Text())
		if limit > 0 && len(lines) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("file_read: %w", err)
	}
	return map[string]any{"lines": lines, "line_count": len(lines)}, nil
}

// FileWrite creates or overwrites a file with the given content.
type FileWrite struct{}

func (FileWrite) Name() string        { return "file_write" }
func (FileWrite) Description() string { return "Create or overwrite a file with new content." }
func (FileWrite) InputSchema() json.RawMessage {
	return schema(`{
		"type": "object",
		"required": ["path", "content"],
		"properties": {
			"path": {"type": "string"},
			"content": {"type": "string"}
		}
	}`)
}

func (t FileWrite) Execute(_ context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return nil, fmt.Errorf("file_write: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file_write: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("file_write: %w", err)
	}
	return map[string]any{"bytes_written": len(content)}, nil
}

// FileEdit replaces the single occurrence of old_text with new_text in path,
// or every occurrence when replace_all is set; an old_text that occurs more
// than once without replace_all is an error.
type FileEdit struct{}

func (FileEdit) Name() string        { return "file_edit" }
func (FileEdit) Description() string { return "Replace one exact text occurrence in a file." }
func (FileEdit) InputSchema() json.RawMessage {
	return schema(`{
		"type": "object",
		"required": ["path", "old_text", "new_text"],
		"properties": {
			"path": {"type": "string"},
			"old_text": {"type": "string"},
			"new_text": {"type": "string"},
			"replace_all": {"type": "boolean"}
		}
	}`)
}

func (t FileEdit) Execute(_ context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	replaceAll, _ := args["replace_all"].(bool)
	if path == "" || oldText == "" {
		return nil, fmt.Errorf("file_edit: path and old_text are required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("file_edit: %w", err)
	}
	content := string(raw)
	count := strings.Count(content, oldText)
	if count == 0 {
		return nil, fmt.Errorf("file_edit: old_text not found in %s", path)
	}
	if count > 1 && !replaceAll {
		return nil, fmt.Errorf("file_edit: old_text is not unique in %s; pass replace_all or widen the match", path)
	}
	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(content, oldText, newText)
	} else {
		updated = strings.Replace(content, oldText, newText, 1)
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return nil, fmt.Errorf("file_edit: %w", err)
	}
	return map[string]any{"replacements": count}, nil
}

// editOp is one substitution applied atomically by FileMultiEdit.
type editOp struct {
	OldText    string `json:"old_text"`
	NewText    string `json:"new_text"`
	ReplaceAll bool   `json:"replace_all"`
}

// FileMultiEdit applies a sequence of edits to one file, all-or-nothing: if
// any edit fails to match, no part of the file is written.
type FileMultiEdit struct{}

func (FileMultiEdit) Name() string { return "file_multi_edit" }
func (FileMultiEdit) Description() string {
	return "Apply multiple exact text substitutions to a file atomically."
}
func (FileMultiEdit) InputSchema() json.RawMessage {
	return schema(`{
		"type": "object",
		"required": ["path", "edits"],
		"properties": {
			"path": {"type": "string"},
			"edits": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["old_text", "new_text"],
					"properties": {
						"old_text": {"type": "string"},
						"new_text": {"type": "string"},
						"replace_all": {"type": "boolean"}
					}
				}
			}
		}
	}`)
}

func (t FileMultiEdit) Execute(_ context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("file_multi_edit: path is required")
	}
	rawEdits, _ := args["edits"].([]any)
	if len(rawEdits) == 0 {
		return nil, fmt.Errorf("file_multi_edit: edits is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("file_multi_edit: %w", err)
	}
	content := string(raw)
	applied := 0
	for i, r := range rawEdits {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("file_multi_edit: edit %d is malformed", i)
		}
		op := editOp{
			OldText:    stringField(m, "old_text"),
			NewText:    stringField(m, "new_text"),
			ReplaceAll: boolField(m, "replace_all"),
		}
		if op.OldText == "" {
			return nil, fmt.Errorf("file_multi_edit: edit %d is missing old_text", i)
		}
		count := strings.Count(content, op.OldText)
		if count == 0 {
			return nil, fmt.Errorf("file_multi_edit: edit %d: old_text not found", i)
		}
		if count > 1 && !op.ReplaceAll {
			return nil, fmt.Errorf("file_multi_edit: edit %d: old_text is not unique; pass replace_all", i)
		}
		if op.ReplaceAll {
			content = strings.ReplaceAll(content, op.OldText, op.NewText)
		} else {
			content = strings.Replace(content, op.OldText, op.NewText, 1)
		}
		applied++
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("file_multi_edit: %w", err)
	}
	return map[string]any{"edits_applied": applied}, nil
}

func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return def
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
