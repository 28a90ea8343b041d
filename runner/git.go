// Package runner hosts everything that touches the world outside the
// store: git worktrees, the external agent subprocess, the live-process
// registry, and the transcript reader.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// gitTimeout bounds every git invocation. Worktree operations are quick;
// anything slower indicates a wedged repository and should fail rather
// than stall a scheduler worker.
const gitTimeout = 5 * time.Second

// WorktreeError is the domain error for failed git operations. It
// surfaces to callers at the dispatch boundary.
type WorktreeError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *WorktreeError) Error() string {
	return fmt.Sprintf("worktree %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *WorktreeError) Unwrap() error {
	return e.Err
}

// runGit executes one git command in dir with the standard timeout and
// returns trimmed stdout. Failures carry the stderr tail.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), detail)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// GitProbe answers repository questions for project creation. It
// implements tool.GitProbe.
type GitProbe struct{}

// IsWorkTree reports whether path is inside a git working tree.
func (GitProbe) IsWorkTree(ctx context.Context, path string) (bool, error) {
	out, err := runGit(ctx, path, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false, nil //nolint:nilerr // not a repo is a negative answer, not a fault
	}
	return out == "true", nil
}

// CurrentBranch returns the checked-out branch of the repository at path.
func (GitProbe) CurrentBranch(ctx context.Context, path string) (string, error) {
	out, err := runGit(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to read current branch: %w", err)
	}
	return out, nil
}
