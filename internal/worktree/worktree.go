// Package worktree allocates and tears down per-agent Git worktrees.
package worktree

import (
	"context"
	"fmt"

	"github.com/karan-zipline/murmur/internal/gitutil"
	"github.com/karan-zipline/murmur/internal/paths"
)

// Info describes an allocated agent worktree.
type Info struct {
	Dir        string
	Branch     string
	BaseBranch string
}

// Manager creates and removes per-agent worktrees under a project's repo.
type Manager struct {
	Git   gitutil.Git
	Paths paths.Paths
}

// New builds a Manager.
func New(git gitutil.Git, p paths.Paths) *Manager {
	return &Manager{Git: git, Paths: p}
}

// CreateAgentWorktree implements §4.C: resolve the base branch, compute the
// worktree dir and branch name, and run `git worktree add`.
func (m *Manager) CreateAgentWorktree(ctx context.Context, project, agentID string) (Info, error) {
	repoDir := m.Paths.ProjectRepoDir(project)
	base, err := m.Git.DefaultBranch(ctx, repoDir)
	if err != nil {
		return Info{}, err
	}

	dir := m.Paths.AgentWorktreeDir(project, agentID)
	branch := fmt.Sprintf("murmur/%s", agentID)
	baseRef := fmt.Sprintf("origin/%s", base)

	if err := m.Git.WorktreeAdd(ctx, repoDir, dir, branch, baseRef); err != nil {
		return Info{}, err
	}
	return Info{Dir: dir, Branch: branch, BaseBranch: base}, nil
}

// RemoveWorktree tolerates a prior Git failure: if the directory still
// exists afterward it is force-deleted. Idempotent.
func (m *Manager) RemoveWorktree(ctx context.Context, project, agentID string) error {
	repoDir := m.Paths.ProjectRepoDir(project)
	dir := m.Paths.AgentWorktreeDir(project, agentID)
	return m.Git.WorktreeRemove(ctx, repoDir, dir)
}
