package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Coordinator manages the isolated git checkout attached to each task.
//
// Checkouts are keyed by (project id, task id) with a deterministic path
// under the worktrees root, so creation is idempotent: finding a valid
// checkout at the expected path returns its recorded branch instead of
// creating a second one.
//
// All operations block on git; schedulers call them from worker
// goroutines, never from a scheduling loop.
type Coordinator struct {
	root string
}

// NewCoordinator builds a Coordinator rooted at the configured worktrees
// directory.
func NewCoordinator(root string) *Coordinator {
	return &Coordinator{root: root}
}

// WorktreeInfo describes a created or reused checkout.
type WorktreeInfo struct {
	Path   string
	Branch string
}

// Path returns the deterministic checkout location for a task.
func (c *Coordinator) Path(projectID, taskID string) string {
	return filepath.Join(c.root, projectID, taskID)
}

// Create ensures a checkout exists for the task and returns it.
//
// A fresh checkout is forked from baseBranch on a new branch named
// task-{first 8 of task id}-{unix timestamp}. When the directory already
// holds a valid checkout, its current branch is returned unchanged.
func (c *Coordinator) Create(ctx context.Context, repoPath, baseBranch, projectID, taskID string) (*WorktreeInfo, error) {
	path := c.Path(projectID, taskID)

	if c.Exists(path) {
		branch, err := c.readBranch(ctx, path)
		if err != nil {
			return nil, &WorktreeError{Op: "reuse", Err: err}
		}
		return &WorktreeInfo{Path: path, Branch: branch}, nil
	}

	short := taskID
	if len(short) > 8 {
		short = short[:8]
	}
	branch := fmt.Sprintf("task-%s-%d", short, time.Now().Unix())

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &WorktreeError{Op: "create", Err: err}
	}
	if _, err := runGit(ctx, repoPath, "worktree", "add", "-b", branch, path, baseBranch); err != nil {
		return nil, &WorktreeError{Op: "create", Err: err}
	}
	return &WorktreeInfo{Path: path, Branch: branch}, nil
}

// Remove detaches the checkout with force and deletes its branch. A
// branch that is already gone is not an error.
func (c *Coordinator) Remove(ctx context.Context, repoPath, worktreePath string) error {
	branch, _ := c.readBranch(ctx, worktreePath)

	if _, err := runGit(ctx, repoPath, "worktree", "remove", "--force", worktreePath); err != nil {
		return &WorktreeError{Op: "remove", Err: err}
	}
	if branch != "" {
		// Already-deleted branches are fine.
		_, _ = runGit(ctx, repoPath, "branch", "-D", branch)
	}
	return nil
}

// Prune drops stale worktree registrations from the repository.
func (c *Coordinator) Prune(ctx context.Context, repoPath string) error {
	if _, err := runGit(ctx, repoPath, "worktree", "prune"); err != nil {
		return &WorktreeError{Op: "prune", Err: err}
	}
	return nil
}

// Exists reports whether path holds a linked checkout: a directory whose
// .git entry is a file (the worktree marker), not a directory.
func (c *Coordinator) Exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	gitInfo, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && !gitInfo.IsDir()
}

func (c *Coordinator) readBranch(ctx context.Context, worktreePath string) (string, error) {
	return runGit(ctx, worktreePath, "rev-parse", "--abbrev-ref", "HEAD")
}
