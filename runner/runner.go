package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/taskrelay/board"
	"github.com/dshills/taskrelay/board/store"
)

// envMarkerPrefix is stripped from the subprocess environment so the
// agent CLI does not believe it is running nested inside another agent
// session.
const envMarkerPrefix = "CLAUDECODE"

// LaunchError means the agent subprocess could not be started or the
// task was not in a launchable state.
type LaunchError struct {
	Msg string
	Err error
}

// Error implements the error interface.
func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent launch failed: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("agent launch failed: %s", e.Msg)
}

// Unwrap exposes the underlying cause.
func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Config carries the runner's environment.
type Config struct {
	// AgentBinary is the agent CLI executable (default "claude").
	AgentBinary string

	// SelfBinary is the taskrelay executable the subprocess launches as
	// its tool server (default "taskrelay").
	SelfBinary string

	// DefaultModel is used when the task's step names none.
	DefaultModel string

	// RepoPath and BaseBranch are the global repository settings,
	// overridden per project when the project row carries its own.
	RepoPath   string
	BaseBranch string

	// DBPath is handed to the subprocess tool server via its config file.
	DBPath string
}

// Runner supervises one agent subprocess per dispatched task: worktree
// setup, prompt assembly, run recording, handshake capture, and exit
// accounting.
type Runner struct {
	store     *store.Store
	worktrees *Coordinator
	registry  *Registry
	cfg       Config
	log       *slog.Logger
}

// New builds a Runner.
func New(st *store.Store, worktrees *Coordinator, registry *Registry, cfg Config, log *slog.Logger) *Runner {
	if cfg.AgentBinary == "" {
		cfg.AgentBinary = "claude"
	}
	if cfg.SelfBinary == "" {
		cfg.SelfBinary = "taskrelay"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{store: st, worktrees: worktrees, registry: registry, cfg: cfg, log: log}
}

// Result is the outcome of one agent run.
type Result struct {
	SessionID string
	ExitCode  int
	Error     string
}

// Launch runs an agent for the task and logs the outcome. It implements
// the trigger processor's Launcher contract; errors are surfaced to the
// caller, which on the trigger-spawned path only logs them.
func (r *Runner) Launch(ctx context.Context, taskID string) error {
	result, err := r.Run(ctx, taskID)
	if err != nil {
		return err
	}
	r.log.Info("agent completed", "task", taskID,
		"exit_code", result.ExitCode, "session_id", result.SessionID)
	return nil
}

// Run executes the full dispatch sequence for a task and blocks until
// the subprocess exits.
func (r *Runner) Run(ctx context.Context, taskID string) (*Result, error) {
	tx := r.store.ReaderCtx(ctx)

	task, err := tx.GetTask(taskID)
	if err != nil {
		return nil, &LaunchError{Msg: fmt.Sprintf("task not found: %s", taskID), Err: err}
	}
	if task.Cancelled {
		return nil, &LaunchError{Msg: fmt.Sprintf("task %s is cancelled", taskID)}
	}
	step, err := tx.GetStep(task.StepID)
	if err != nil {
		return nil, &LaunchError{Msg: "failed to load task step", Err: err}
	}
	if step.SystemPrompt == nil {
		return nil, &LaunchError{Msg: fmt.Sprintf("step %q has no agent configured", step.Name)}
	}

	repoPath, baseBranch, err := r.resolveRepo(tx, task.ProjectID)
	if err != nil {
		return nil, err
	}

	if task.WorktreePath == nil {
		info, err := r.worktrees.Create(ctx, repoPath, baseBranch, task.ProjectID, task.ID)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		err = r.store.WithTx(ctx, func(wtx *store.Tx) error {
			return wtx.SetTaskWorktree(task.ID, info.Path, info.Branch, now)
		})
		if err != nil {
			return nil, err
		}
		task.WorktreePath = &info.Path
		task.Branch = &info.Branch
	}

	model := r.cfg.DefaultModel
	if step.Model != nil {
		model = *step.Model
	}

	comments, err := tx.CommentsByTask(task.ID)
	if err != nil {
		return nil, err
	}
	prompt := BuildPrompt(task, step.Name, *step.SystemPrompt, comments)

	runID := uuid.NewString()
	startedAt := time.Now().UTC()
	err = r.store.WithTx(ctx, func(wtx *store.Tx) error {
		return wtx.InsertRun(&board.AgentRun{
			ID:        runID,
			TaskID:    task.ID,
			StepID:    step.ID,
			StartedAt: startedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	result, runErr := r.spawn(ctx, task, runID, model, prompt)

	completedAt := time.Now().UTC()
	exitCode := -1
	var errMsg *string
	if result != nil {
		exitCode = result.ExitCode
		if result.Error != "" {
			msg := result.Error
			errMsg = &msg
		}
	}
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}
	if closeErr := r.store.WithTx(ctx, func(wtx *store.Tx) error {
		return wtx.CloseRun(runID, exitCode, errMsg, completedAt)
	}); closeErr != nil {
		r.log.Error("failed to record run completion", "run", runID, "error", closeErr)
	}

	if runErr != nil {
		return nil, runErr
	}
	return result, nil
}

// spawn starts the agent subprocess, captures the session handshake, and
// waits for termination.
func (r *Runner) spawn(ctx context.Context, task *board.Task, runID, model, prompt string) (*Result, error) {
	mcpConfigPath, err := r.writeMCPConfig(task.ID)
	if err != nil {
		return nil, &LaunchError{Msg: "failed to write tool server config", Err: err}
	}
	defer func() { _ = os.Remove(mcpConfigPath) }()

	args := []string{
		"--dangerously-skip-permissions",
		"--output-format", "stream-json",
		"--verbose",
		"--model", model,
		"--mcp-config", mcpConfigPath,
	}
	sessionID := ""
	if task.SessionID != nil {
		sessionID = *task.SessionID
		args = append(args, "--resume", sessionID)
	}
	args = append(args, "-p", prompt)

	cmd := exec.Command(r.cfg.AgentBinary, args...)
	cmd.Dir = *task.WorktreePath
	cmd.Env = sanitizedEnv(os.Environ())

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Msg: "failed to open stdout pipe", Err: err}
	}
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{
			Msg: fmt.Sprintf("could not start %q; ensure it is installed and on PATH", r.cfg.AgentBinary),
			Err: err,
		}
	}
	r.registry.Add(runID, cmd.Process)
	defer r.registry.Remove(runID)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if sessionID != "" {
			continue
		}
		if sid, ok := parseInitHandshake([]byte(line)); ok {
			sessionID = sid
			// Persisted immediately in its own transaction: a crash after
			// this point leaves the task resumable.
			now := time.Now().UTC()
			if err := r.store.WithTx(ctx, func(wtx *store.Tx) error {
				return wtx.SetTaskSession(task.ID, sid, now)
			}); err != nil {
				r.log.Error("failed to persist session id", "task", task.ID, "error", err)
			}
		}
	}

	waitErr := cmd.Wait()
	result := &Result{SessionID: sessionID}
	if waitErr == nil {
		result.ExitCode = 0
		return result, nil
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		result.Error = stderr.Tail()
		return result, nil
	}
	result.ExitCode = -1
	result.Error = waitErr.Error()
	return result, nil
}

// Cleanup removes the task's worktree if one is recorded and clears the
// worktree columns, preserving the invariant that worktree_path is set
// iff a checkout exists on disk. It implements the trigger processor's
// Cleaner contract.
func (r *Runner) Cleanup(ctx context.Context, taskID string) error {
	tx := r.store.ReaderCtx(ctx)
	task, err := tx.GetTask(taskID)
	if err != nil {
		return nil //nolint:nilerr // vanished task needs no cleanup
	}
	if task.WorktreePath == nil {
		return nil
	}
	repoPath, _, err := r.resolveRepo(tx, task.ProjectID)
	if err != nil {
		return err
	}
	if err := r.worktrees.Remove(ctx, repoPath, *task.WorktreePath); err != nil {
		return err
	}
	now := time.Now().UTC()
	return r.store.WithTx(ctx, func(wtx *store.Tx) error {
		return wtx.SetTaskWorktree(taskID, "", "", now)
	})
}

// resolveRepo returns the repository path and base branch for a project,
// preferring the project row's values over the global config.
func (r *Runner) resolveRepo(tx *store.Tx, projectID string) (repoPath, baseBranch string, err error) {
	repoPath = r.cfg.RepoPath
	baseBranch = r.cfg.BaseBranch
	project, err := tx.GetProject(projectID)
	if err != nil {
		return "", "", fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	if project.RepoPath != nil && *project.RepoPath != "" {
		repoPath = *project.RepoPath
	}
	if project.BaseBranch != nil && *project.BaseBranch != "" {
		baseBranch = *project.BaseBranch
	}
	return repoPath, baseBranch, nil
}

// writeMCPConfig writes the temp config file that gives the subprocess
// back-channel access to the tool surface scoped to its task.
func (r *Runner) writeMCPConfig(taskID string) (string, error) {
	payload := map[string]any{
		"mcpServers": map[string]any{
			"taskrelay": map[string]any{
				"command": r.cfg.SelfBinary,
				"args":    []string{"mcp", "--task-id", taskID},
				"env":     map[string]string{"TASKRELAY_DB": r.cfg.DBPath},
			},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "taskrelay-mcp-*.json")
	if err != nil {
		return "", err
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// parseInitHandshake extracts the session id from the subprocess's init
// line: {"type":"system","subtype":"init","session_id":"..."}.
func parseInitHandshake(line []byte) (string, bool) {
	var msg struct {
		Type      string `json:"type"`
		Subtype   string `json:"subtype"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(line, &msg); err != nil {
		return "", false
	}
	if msg.Type == "system" && msg.Subtype == "init" && msg.SessionID != "" {
		return msg.SessionID, true
	}
	return "", false
}

// sanitizedEnv drops every variable carrying the nested-session marker
// prefix.
func sanitizedEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, envMarkerPrefix) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// tailBuffer keeps the last capacity bytes written to it, for stderr
// capture without unbounded growth.
type tailBuffer struct {
	buf []byte
	cap int
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{cap: capacity}
}

// Write implements io.Writer.
func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.cap {
		t.buf = t.buf[len(t.buf)-t.cap:]
	}
	return len(p), nil
}

// Tail returns the retained tail, trimmed.
func (t *tailBuffer) Tail() string {
	return strings.TrimSpace(string(t.buf))
}
