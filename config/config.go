// Package config loads and validates the taskrelay configuration file.
//
// The file is JSON, loaded once at startup. Required fields identify the
// repository and storage locations; the rest carry defaults. Paths accept
// a leading ~ which expands to the user's home directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFileName is looked for in the working directory when no path is
// given.
const DefaultFileName = "taskrelay.config.json"

// StepConfig is one entry of the default workflow.
type StepConfig struct {
	Name         string  `json:"name"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
	Model        *string `json:"model,omitempty"`
	Color        *string `json:"color,omitempty"`
}

// Config is the validated runtime configuration.
type Config struct {
	RepoPath          string       `json:"repo_path"`
	BaseBranch        string       `json:"base_branch"`
	WorktreesPath     string       `json:"worktrees_path"`
	DBPath            string       `json:"db_path"`
	MaxParallelAgents int          `json:"max_parallel_agents"`
	PortRange         [2]int       `json:"port_range"`
	DefaultModel      string       `json:"default_model"`
	DefaultWorkflow   []StepConfig `json:"default_workflow"`
	AgentBinary       string       `json:"agent_binary"`
	ListenAddr        string       `json:"listen_addr"`
}

// Error is raised for missing, unreadable, or invalid configuration.
type Error struct {
	Msg string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	}
	return "config: " + e.Msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

var requiredFields = []string{"repo_path", "base_branch", "worktrees_path", "db_path"}

// Load reads, validates, and normalizes the config file. An empty path
// loads DefaultFileName from the working directory.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFileName
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Msg: fmt.Sprintf("config file not found: %s", path), Err: err}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &Error{Msg: fmt.Sprintf("invalid JSON in %s", path), Err: err}
	}
	for _, field := range requiredFields {
		if _, ok := fields[field]; !ok {
			return nil, &Error{Msg: fmt.Sprintf("missing required config field %q", field)}
		}
	}

	cfg := &Config{
		MaxParallelAgents: 3,
		PortRange:         [2]int{4000, 4099},
		AgentBinary:       "claude",
		ListenAddr:        ":8700",
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, &Error{Msg: fmt.Sprintf("invalid config in %s", path), Err: err}
	}
	if cfg.MaxParallelAgents < 1 {
		return nil, &Error{Msg: "max_parallel_agents must be at least 1"}
	}
	if cfg.PortRange[0] > cfg.PortRange[1] {
		return nil, &Error{Msg: "port_range start exceeds end"}
	}

	cfg.RepoPath = ExpandPath(cfg.RepoPath)
	cfg.WorktreesPath = ExpandPath(cfg.WorktreesPath)
	cfg.DBPath = ExpandPath(cfg.DBPath)
	return cfg, nil
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

// Default returns the config scaffolded by the init command, rooted at
// dir.
func Default(dir string) *Config {
	return &Config{
		RepoPath:          dir,
		BaseBranch:        "main",
		WorktreesPath:     "~/.taskrelay/worktrees",
		DBPath:            "~/.taskrelay/taskrelay.db",
		MaxParallelAgents: 3,
		PortRange:         [2]int{4000, 4099},
		AgentBinary:       "claude",
		ListenAddr:        ":8700",
		DefaultWorkflow: []StepConfig{
			{Name: "Plan", SystemPrompt: strPtr("You are the planner. Break the task into concrete subtasks, record dependencies, and comment your plan."), Model: strPtr("claude-opus-4-5")},
			{Name: "Implement", SystemPrompt: strPtr("You are the implementer. Complete the task in the worktree, commit your work, and move the task forward when done.")},
			{Name: "Review", SystemPrompt: strPtr("You are the reviewer. Inspect the branch, comment findings, and move the task forward or backward.")},
			{Name: "Done"},
		},
	}
}

// Write serializes cfg to path with stable indentation.
func Write(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return &Error{Msg: "failed to serialize config", Err: err}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return &Error{Msg: "failed to write config", Err: err}
	}
	return nil
}

func strPtr(s string) *string {
	return &s
}
