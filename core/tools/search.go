package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/gobwas/glob"
)

// Glob matches files against a glob pattern under a root directory.
type Glob struct{}

func (Glob) Name() string        { return "glob" }
func (Glob) Description() string { return "List files under a root matching a glob pattern." }
func (Glob) InputSchema() json.RawMessage {
	return schema(`{
		"type": "object",
		"required": ["pattern"],
		"properties": {
			"pattern": {"type": "string"},
			"root": {"type": "string"}
		}
	}`)
}

func (Glob) Execute(_ context.Context, args map[string]any) (any, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return nil, fmt.Errorf("glob: pattern is required")
	}
	root, _ := args["root"].(string)
	if root == "" {
		root = "."
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("glob: invalid pattern: %w", err)
	}
	var matches []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		if g.Match(rel) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("glob: %w", err)
	}
	sort.Strings(matches)
	return map[string]any{"matches": matches, "count": len(matches)}, nil
}

// ContentSearch greps for a regular expression across files under a root.
type ContentSearch struct{}

func (ContentSearch) Name() string { return "content_search" }
func (ContentSearch) Description() string {
	return "Search file contents under a root for lines matching a regular expression."
}
func (ContentSearch) InputSchema() json.RawMessage {
	return schema(`{
		"type": "object",
		"required": ["pattern"],
		"properties": {
			"pattern": {"type": "string"},
			"root": {"type": "string"},
			"file_glob": {"type": "string"},
			"max_matches": {"type": "integer", "minimum": 1}
		}
	}`)
}

type contentMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (ContentSearch) Execute(_ context.Context, args map[string]any) (any, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return nil, fmt.Errorf("content_search: pattern is required")
	}
	root, _ := args["root"].(string)
	if root == "" {
		root = "."
	}
	maxMatches := intArg(args, "max_matches", 200)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("content_search: invalid pattern: %w", err)
	}
	var fileFilter glob.Glob
	if fg, _ := args["file_glob"].(string); fg != "" {
		fileFilter, err = glob.Compile(fg, '/')
		if err != nil {
			return nil, fmt.Errorf("content_search: invalid file_glob: %w", err)
		}
	}

	var matches []contentMatch
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || len(matches) >= maxMatches {
			return nil
		}
		if fileFilter != nil {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = path
			}
			if !fileFilter.Match(rel) {
				return nil
			}
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() && len(matches) < maxMatches {
			lineNo++
			line := scanner.Text()
			if re.MatchString(line) {
				matches = append(matches, contentMatch{Path: path, Line: lineNo, Text: line})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("content_search: %w", err)
	}
	return map[string]any{"matches": matches, "count": len(matches)}, nil
}
