package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/dshills/taskrelay/board"
	"github.com/dshills/taskrelay/board/store"
)

// writeStub creates a fake agent executable that emits the given script.
func writeStub(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub agent scripts are POSIX-only")
	}
	path := filepath.Join(t.TempDir(), "fake-agent")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("failed to write stub: %v", err)
	}
	return path
}

type runnerFixture struct {
	st     *store.Store
	taskID string
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "runner.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	now := time.Now().UTC()
	prompt := "You are the agent."
	worktree := t.TempDir()
	branch := "task-abc-1"
	err = st.WithTx(context.Background(), func(tx *store.Tx) error {
		if err := tx.InsertProject(&board.Project{
			ID: "proj-1", Title: "P", Status: board.ProjectActive,
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.InsertStep(&board.WorkflowStep{
			ID: "step-0", ProjectID: "proj-1", Name: "Plan", Position: 0,
			SystemPrompt: &prompt, CreatedAt: now,
		}); err != nil {
			return err
		}
		return tx.InsertTask(&board.Task{
			ID: "task-1", ProjectID: "proj-1", Title: "T", StepID: "step-0",
			Type: board.TypeTask, WorktreePath: &worktree, Branch: &branch,
			CreatedAt: now, UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("failed to seed: %v", err)
	}
	return &runnerFixture{st: st, taskID: "task-1"}
}

func (f *runnerFixture) runner(t *testing.T, binary string) *Runner {
	t.Helper()
	return New(f.st, NewCoordinator(t.TempDir()), NewRegistry(), Config{
		AgentBinary:  binary,
		DefaultModel: "test-model",
		DBPath:       f.st.Path(),
	}, nil)
}

func TestRunCapturesSessionAndExit(t *testing.T) {
	f := newRunnerFixture(t)
	stub := writeStub(t, `echo '{"type":"system","subtype":"init","session_id":"sess-123"}'
echo '{"type":"result","message":"ok"}'
exit 0
`)
	r := f.runner(t, stub)

	result, err := r.Run(context.Background(), f.taskID)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", result.ExitCode)
	}
	if result.SessionID != "sess-123" {
		t.Errorf("expected captured session, got %q", result.SessionID)
	}

	tx := f.st.Reader()
	task, err := tx.GetTask(f.taskID)
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if task.SessionID == nil || *task.SessionID != "sess-123" {
		t.Error("session id not persisted on task")
	}

	runs, err := tx.RunsByTask(f.taskID)
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one run, got %d", len(runs))
	}
	if runs[0].CompletedAt == nil || runs[0].ExitCode == nil || *runs[0].ExitCode != 0 {
		t.Errorf("run not closed cleanly: %+v", runs[0])
	}
}

func TestRunRecordsFailure(t *testing.T) {
	f := newRunnerFixture(t)
	stub := writeStub(t, `echo "something broke" >&2
exit 3
`)
	r := f.runner(t, stub)

	result, err := r.Run(context.Background(), f.taskID)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Error, "something broke") {
		t.Errorf("stderr tail missing: %q", result.Error)
	}

	runs, err := f.st.Reader().RunsByTask(f.taskID)
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if runs[0].ExitCode == nil || *runs[0].ExitCode != 3 {
		t.Errorf("exit code not recorded: %+v", runs[0])
	}
	if runs[0].Error == nil || !strings.Contains(*runs[0].Error, "something broke") {
		t.Errorf("error not recorded: %+v", runs[0])
	}
}

func TestRunResumePassesSession(t *testing.T) {
	f := newRunnerFixture(t)
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	stub := writeStub(t, `echo "$@" > `+argsFile+`
exit 0
`)
	err := f.st.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.SetTaskSession(f.taskID, "sess-resume", time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("failed: %v", err)
	}

	r := f.runner(t, stub)
	if _, err := r.Run(context.Background(), f.taskID); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	raw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("stub never ran: %v", err)
	}
	args := string(raw)
	if !strings.Contains(args, "--resume sess-resume") {
		t.Errorf("resume directive missing from argv: %s", args)
	}
	if !strings.Contains(args, "--model test-model") {
		t.Errorf("model missing from argv: %s", args)
	}
}

func TestRunRejections(t *testing.T) {
	f := newRunnerFixture(t)
	stub := writeStub(t, "exit 0\n")

	t.Run("missing binary", func(t *testing.T) {
		r := f.runner(t, filepath.Join(t.TempDir(), "no-such-binary"))
		_, err := r.Run(context.Background(), f.taskID)
		var le *LaunchError
		if !errors.As(err, &le) {
			t.Fatalf("expected LaunchError, got %v", err)
		}
	})

	t.Run("cancelled task", func(t *testing.T) {
		err := f.st.WithTx(context.Background(), func(tx *store.Tx) error {
			return tx.SetTaskCancelled(f.taskID, true, time.Now().UTC())
		})
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		r := f.runner(t, stub)
		_, err = r.Run(context.Background(), f.taskID)
		var le *LaunchError
		if !errors.As(err, &le) {
			t.Fatalf("expected LaunchError, got %v", err)
		}
	})
}

func TestParseInitHandshake(t *testing.T) {
	cases := []struct {
		name string
		line string
		want string
		ok   bool
	}{
		{"init line", `{"type":"system","subtype":"init","session_id":"abc"}`, "abc", true},
		{"other system line", `{"type":"system","subtype":"status"}`, "", false},
		{"assistant line", `{"type":"assistant","session_id":"abc"}`, "", false},
		{"not json", `hello`, "", false},
		{"init without session", `{"type":"system","subtype":"init"}`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseInitHandshake([]byte(tc.line))
			if got != tc.want || ok != tc.ok {
				t.Errorf("got (%q, %v), want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestSanitizedEnv(t *testing.T) {
	env := []string{
		"PATH=/usr/bin",
		"CLAUDECODE=1",
		"CLAUDECODE_SESSION=xyz",
		"HOME=/home/u",
	}
	got := sanitizedEnv(env)
	for _, kv := range got {
		if strings.HasPrefix(kv, "CLAUDECODE") {
			t.Errorf("marker variable leaked: %s", kv)
		}
	}
	if len(got) != 2 {
		t.Errorf("expected 2 surviving variables, got %d", len(got))
	}
}

func TestTailBuffer(t *testing.T) {
	buf := newTailBuffer(8)
	if _, err := buf.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := buf.Tail(); got != "89abcdef" {
		t.Errorf("expected tail 89abcdef, got %q", got)
	}
}
