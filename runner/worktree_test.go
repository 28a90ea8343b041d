package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// initRepo creates a throwaway repository with one commit on main.
// Tests that need git skip when it is not installed.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	run("add", ".")
	run("commit", "-m", "initial")
	return dir
}

func TestCoordinatorCreate(t *testing.T) {
	repo := initRepo(t)
	root := t.TempDir()
	c := NewCoordinator(root)
	ctx := context.Background()

	info, err := c.Create(ctx, repo, "main", "proj-1", "task-12345678-extra")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	t.Run("deterministic path", func(t *testing.T) {
		want := filepath.Join(root, "proj-1", "task-12345678-extra")
		if info.Path != want {
			t.Errorf("expected %s, got %s", want, info.Path)
		}
	})

	t.Run("branch naming", func(t *testing.T) {
		if !strings.HasPrefix(info.Branch, "task-task-123-") {
			t.Errorf("unexpected branch name %q", info.Branch)
		}
	})

	t.Run("structural existence", func(t *testing.T) {
		if !c.Exists(info.Path) {
			t.Error("checkout should exist")
		}
		gitInfo, err := os.Stat(filepath.Join(info.Path, ".git"))
		if err != nil || gitInfo.IsDir() {
			t.Error("linked checkout marker should be a file")
		}
	})

	t.Run("idempotent reuse", func(t *testing.T) {
		again, err := c.Create(ctx, repo, "main", "proj-1", "task-12345678-extra")
		if err != nil {
			t.Fatalf("reuse failed: %v", err)
		}
		if again.Path != info.Path || again.Branch != info.Branch {
			t.Errorf("reuse changed worktree: %+v vs %+v", again, info)
		}
	})
}

func TestCoordinatorRemove(t *testing.T) {
	repo := initRepo(t)
	root := t.TempDir()
	c := NewCoordinator(root)
	ctx := context.Background()

	info, err := c.Create(ctx, repo, "main", "proj-1", "task-aaaa")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := c.Remove(ctx, repo, info.Path); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if c.Exists(info.Path) {
		t.Error("checkout should be gone")
	}

	// The task branch is deleted with the checkout.
	cmd := exec.Command("git", "branch", "--list", info.Branch)
	cmd.Dir = repo
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git branch failed: %v", err)
	}
	if strings.TrimSpace(string(out)) != "" {
		t.Errorf("branch %s still present", info.Branch)
	}

	t.Run("prune after manual deletion", func(t *testing.T) {
		info, err := c.Create(ctx, repo, "main", "proj-1", "task-bbbb")
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if err := os.RemoveAll(info.Path); err != nil {
			t.Fatalf("failed to delete checkout: %v", err)
		}
		if err := c.Prune(ctx, repo); err != nil {
			t.Fatalf("prune failed: %v", err)
		}
	})
}

func TestGitProbe(t *testing.T) {
	repo := initRepo(t)
	probe := GitProbe{}
	ctx := context.Background()

	t.Run("working tree detected", func(t *testing.T) {
		ok, err := probe.IsWorkTree(ctx, repo)
		if err != nil || !ok {
			t.Errorf("expected working tree, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("plain directory rejected", func(t *testing.T) {
		ok, _ := probe.IsWorkTree(ctx, t.TempDir())
		if ok {
			t.Error("plain directory should not be a working tree")
		}
	})

	t.Run("current branch", func(t *testing.T) {
		branch, err := probe.CurrentBranch(ctx, repo)
		if err != nil || branch != "main" {
			t.Errorf("expected main, got %q err=%v", branch, err)
		}
	})
}
