package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/karan-zipline/murmur/internal/gitutil"
	"github.com/karan-zipline/murmur/internal/paths"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func newProjectFixture(t *testing.T) paths.Paths {
	t.Helper()
	bare := filepath.Join(t.TempDir(), "origin.git")
	runGit(t, "", "init", "--bare", bare)

	seed := t.TempDir()
	runGit(t, seed, "init")
	runGit(t, seed, "config", "user.email", "test@example.com")
	runGit(t, seed, "config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(seed, "README.md"), []byte("seed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, seed, "add", "README.md")
	runGit(t, seed, "commit", "-m", "initial")
	runGit(t, seed, "branch", "-M", "main")
	runGit(t, seed, "remote", "add", "origin", bare)
	runGit(t, seed, "push", "origin", "main")
	runGit(t, bare, "symbolic-ref", "HEAD", "refs/heads/main")

	root := t.TempDir()
	p := paths.Paths{ProjectsDir: filepath.Join(root, "projects")}
	repoDir := p.ProjectRepoDir("demo")
	g := gitutil.Git{}
	if err := g.Clone(context.Background(), bare, repoDir); err != nil {
		t.Fatalf("clone: %v", err)
	}
	return p
}

func TestCreateAgentWorktreeLayout(t *testing.T) {
	p := newProjectFixture(t)
	m := New(gitutil.Git{}, p)

	info, err := m.CreateAgentWorktree(context.Background(), "demo", "a-1")
	if err != nil {
		t.Fatalf("CreateAgentWorktree: %v", err)
	}
	if info.Branch != "murmur/a-1" {
		t.Fatalf("expected branch murmur/a-1, got %q", info.Branch)
	}
	if info.BaseBranch != "main" {
		t.Fatalf("expected base branch main, got %q", info.BaseBranch)
	}
	if info.Dir != p.AgentWorktreeDir("demo", "a-1") {
		t.Fatalf("expected dir %q, got %q", p.AgentWorktreeDir("demo", "a-1"), info.Dir)
	}
	if _, err := os.Stat(filepath.Join(info.Dir, "README.md")); err != nil {
		t.Fatalf("expected checked-out worktree content: %v", err)
	}
}

func TestRemoveWorktreeIsIdempotent(t *testing.T) {
	p := newProjectFixture(t)
	m := New(gitutil.Git{}, p)
	ctx := context.Background()

	if _, err := m.CreateAgentWorktree(ctx, "demo", "a-1"); err != nil {
		t.Fatalf("CreateAgentWorktree: %v", err)
	}
	if err := m.RemoveWorktree(ctx, "demo", "a-1"); err != nil {
		t.Fatalf("first RemoveWorktree: %v", err)
	}
	if _, err := os.Stat(p.AgentWorktreeDir("demo", "a-1")); !os.IsNotExist(err) {
		t.Fatalf("expected worktree dir gone, stat err=%v", err)
	}
	// Idempotent: removing an already-removed worktree must not error.
	if err := m.RemoveWorktree(ctx, "demo", "a-1"); err != nil {
		t.Fatalf("second RemoveWorktree should be a no-op: %v", err)
	}
}
