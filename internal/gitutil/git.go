// Package gitutil is the narrow Git command surface the daemon needs:
// clone, worktree add/remove, fetch, merge, rebase, push, and a few
// read-only inspections. Every command runs with the inherited environment
// and captures stderr into a buffer the way the teacher's container package
// wraps its one external command.
package gitutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/karan-zipline/murmur/internal/murmurerr"
)

// Git is the capability surface. A zero value runs the system `git` binary.
type Git struct {
	// Bin overrides the git executable name, mainly for tests.
	Bin string
}

func (g Git) bin() string {
	if g.Bin != "" {
		return g.Bin
	}
	return "git"
}

func (g Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.bin(), args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), murmurerr.Upstream(
			fmt.Sprintf("git %s", strings.Join(args, " ")), args, stderr.String()).Wrap(err)
	}
	return stdout.String(), nil
}

// Clone clones remote into dest. Fails if dest already exists.
func (g Git) Clone(ctx context.Context, remote, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return murmurerr.Conflict(fmt.Sprintf("clone destination already exists: %s", dest))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return murmurerr.IO("creating clone parent dir").Wrap(err)
	}
	_, err := g.run(ctx, "", "clone", remote, dest)
	return err
}

// WorktreeAdd creates branch from baseRef and checks it out at path.
func (g Git) WorktreeAdd(ctx context.Context, repoDir, path, branch, baseRef string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return murmurerr.IO("creating worktree parent dir").Wrap(err)
	}
	_, err := g.run(ctx, repoDir, "worktree", "add", "-b", branch, path, baseRef)
	return err
}

// WorktreeRemove best-effort removes a worktree: git first, then rm -rf.
func (g Git) WorktreeRemove(ctx context.Context, repoDir, path string) error {
	_, gitErr := g.run(ctx, repoDir, "worktree", "remove", "--force", path)
	if _, statErr := os.Stat(path); statErr == nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return murmurerr.IO("removing worktree directory").Wrap(rmErr)
		}
	}
	_ = gitErr // tolerated: directory removal is the ground truth.
	return nil
}

// Fetch fetches refs from remote (default "origin").
func (g Git) Fetch(ctx context.Context, repoDir, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	_, err := g.run(ctx, repoDir, "fetch", remote)
	return err
}

// MergeFFOnly attempts a fast-forward-only merge of branch.
func (g Git) MergeFFOnly(ctx context.Context, dir, branch string) error {
	_, err := g.run(ctx, dir, "merge", "--ff-only", branch)
	return err
}

// MergeNoFF merges branch with an explicit merge commit, returning the
// resulting HEAD sha.
func (g Git) MergeNoFF(ctx context.Context, dir, branch, message string) (string, error) {
	if _, err := g.run(ctx, dir, "merge", "--no-ff", "-m", message, branch); err != nil {
		return "", err
	}
	return g.RevParseHEAD(ctx, dir)
}

// RebaseOnto rebases the current branch of worktree onto base.
func (g Git) RebaseOnto(ctx context.Context, worktree, base string) error {
	_, err := g.run(ctx, worktree, "rebase", base)
	return err
}

// Push pushes branch to origin. If force, uses --force-with-lease.
func (g Git) Push(ctx context.Context, dir, branch string, force bool) error {
	args := []string{"push", "origin", branch}
	if force {
		args = []string{"push", "--force-with-lease", "origin", branch}
	}
	_, err := g.run(ctx, dir, args...)
	return err
}

// RemoteOriginURL returns the normalized (lower-cased, .git and trailing
// slash stripped) origin URL.
func (g Git) RemoteOriginURL(ctx context.Context, repoDir string) (string, error) {
	out, err := g.run(ctx, repoDir, "remote", "get-url", "origin")
	if err != nil {
		return "", err
	}
	return NormalizeRemoteURL(out), nil
}

// NormalizeRemoteURL lower-cases and strips a trailing .git / slash.
func NormalizeRemoteURL(url string) string {
	u := strings.ToLower(strings.TrimSpace(url))
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, ".git")
	return u
}

// ListRefsShort lists ref names under prefix (e.g. "refs/heads/murmur/").
func (g Git) ListRefsShort(ctx context.Context, repoDir, prefix string) ([]string, error) {
	out, err := g.run(ctx, repoDir, "for-each-ref", "--format=%(refname:short)", prefix)
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			refs = append(refs, line)
		}
	}
	return refs, nil
}

// DefaultBranch parses `git remote show origin` for the "HEAD branch" line.
func (g Git) DefaultBranch(ctx context.Context, repoDir string) (string, error) {
	out, err := g.run(ctx, repoDir, "remote", "show", "origin")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		const marker = "HEAD branch:"
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker)), nil
		}
	}
	return "", murmurerr.Upstream("could not determine default branch", []string{"remote", "show", "origin"}, out)
}

// RevParseHEAD returns the current HEAD sha.
func (g Git) RevParseHEAD(ctx context.Context, dir string) (string, error) {
	out, err := g.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CommitAll stages and commits every change in dir, if any exist. Returns
// false, nil if the worktree was clean.
func (g Git) CommitAll(ctx context.Context, dir, message string) (bool, error) {
	status, err := g.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(status) == "" {
		return false, nil
	}
	if _, err := g.run(ctx, dir, "add", "-A"); err != nil {
		return false, err
	}
	if _, err := g.run(ctx, dir, "commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// Checkout checks out ref in dir.
func (g Git) Checkout(ctx context.Context, dir, ref string) error {
	_, err := g.run(ctx, dir, "checkout", ref)
	return err
}

// CherryUnmerged reports whether branch has commits not yet in base: true
// if any line of `git cherry base branch` is prefixed '+', false when the
// branch is fully merged (every line prefixed '-').
func (g Git) CherryUnmerged(ctx context.Context, dir, base, branch string) (bool, error) {
	out, err := g.run(ctx, dir, "cherry", base, branch)
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "+") {
			return true, nil
		}
	}
	return false, nil
}

// DeleteRemoteBranch deletes a branch on origin.
func (g Git) DeleteRemoteBranch(ctx context.Context, dir, branch string) error {
	_, err := g.run(ctx, dir, "push", "origin", "--delete", branch)
	return err
}
