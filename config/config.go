// Package config loads and validates the orchestration core's
// configuration (spec.md §6.5), following the teacher's own YAML-based
// configuration loading (integration_tests/framework.LoadScenarios):
// os.ReadFile followed by yaml.Unmarshal into a plain tagged struct.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentflow/orchestrator/core/session"
)

// MCPTransport is the wire transport an MCP server descriptor uses
// (spec.md §6.3: "Newline-delimited JSON-RPC 2.0 objects over stdio;
// JSON-RPC over HTTPS POST").
type MCPTransport string

const (
	MCPTransportStdio MCPTransport = "stdio"
	MCPTransportHTTP  MCPTransport = "http"
)

// MCPServer is one entry of the top-level `mcp_servers` list; a nested
// `mcp: {servers: [...]}` block is not read.
type MCPServer struct {
	Name      string            `yaml:"name"`
	Transport MCPTransport      `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       []string          `yaml:"env,omitempty"`
	Endpoint  string            `yaml:"endpoint,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
}

// RateLimit is `rate_limit.*`.
type RateLimit struct {
	PerMinute  int `yaml:"per_minute"`
	Concurrent int `yaml:"concurrent"`
}

// Config is the recognized configuration surface from spec.md §6.5.
type Config struct {
	ApprovalMode      string      `yaml:"approval_mode"`
	MaxTurns          int         `yaml:"max_turns"`
	TimeoutSeconds    int         `yaml:"timeout_seconds"`
	TokenLimit        int         `yaml:"token_limit"`
	MCPServers        []MCPServer `yaml:"mcp_servers"`
	AllowedPaths      []string    `yaml:"allowed_paths"`
	DeniedPatterns    []string    `yaml:"denied_patterns"`
	RateLimit         RateLimit   `yaml:"rate_limit"`
	HeartbeatInterval int         `yaml:"heartbeat_interval"`
}

// Default returns a Config with the core's documented defaults:
// manual approval, no turn/timeout/token ceiling, and a 10s heartbeat
// (spec.md §4.1: "N configurable, default 10").
func Default() Config {
	return Config{
		ApprovalMode:      "manual",
		HeartbeatInterval: 10,
	}
}

// Load reads and parses a YAML configuration file at path, starting from
// Default() so unset keys keep their documented defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every recognized key holds an effect-bearing value
// (spec.md §6.5's table: each key's effect only makes sense under these
// constraints).
func (c Config) Validate() error {
	switch c.ApprovalMode {
	case "auto", "manual":
	default:
		return fmt.Errorf("config: approval_mode must be %q or %q, got %q", "auto", "manual", c.ApprovalMode)
	}
	if c.MaxTurns < 0 {
		return fmt.Errorf("config: max_turns must not be negative, got %d", c.MaxTurns)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("config: timeout_seconds must not be negative, got %d", c.TimeoutSeconds)
	}
	if c.TokenLimit < 0 {
		return fmt.Errorf("config: token_limit must not be negative, got %d", c.TokenLimit)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("config: heartbeat_interval must not be negative, got %d", c.HeartbeatInterval)
	}
	if c.RateLimit.PerMinute < 0 || c.RateLimit.Concurrent < 0 {
		return fmt.Errorf("config: rate_limit bounds must not be negative")
	}
	for _, srv := range c.MCPServers {
		if srv.Name == "" {
			return fmt.Errorf("config: mcp server entry missing name")
		}
		switch srv.Transport {
		case MCPTransportStdio:
			if srv.Command == "" {
				return fmt.Errorf("config: mcp server %q: stdio transport requires command", srv.Name)
			}
		case MCPTransportHTTP:
			if srv.Endpoint == "" {
				return fmt.Errorf("config: mcp server %q: http transport requires endpoint", srv.Name)
			}
		default:
			return fmt.Errorf("config: mcp server %q: unknown transport %q", srv.Name, srv.Transport)
		}
	}
	return nil
}

// SessionConfig projects the subset of Config that governs one session's
// execution (§3, §6.5) onto a session.Config.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		ApprovalMode:     session.ApprovalMode(c.ApprovalMode),
		MaxTurns:         c.MaxTurns,
		TimeoutSeconds:   c.TimeoutSeconds,
		TokenLimit:       c.TokenLimit,
		HeartbeatSeconds: c.HeartbeatInterval,
	}
}

// Timeout returns TimeoutSeconds as a time.Duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HeartbeatDuration returns HeartbeatInterval as a time.Duration.
func (c Config) HeartbeatDuration() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Second
}
