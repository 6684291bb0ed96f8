// Merge pipeline (§4.I): promotes a finished coding agent's branch into the
// project's base branch, either by direct merge or by opening a pull
// request, serialized per project by the merge lock.
package daemon

import (
	"context"
	"fmt"
	"strconv"

	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/murmurerr"
	"github.com/karan-zipline/murmur/internal/protocol"
)

// pullRequestCreator is implemented by issue backends that can open a PR
// (currently only the GitHub backend); file-backed trackers don't.
type pullRequestCreator interface {
	CreatePullRequest(ctx context.Context, base, branch, title, body string) (string, error)
}

// Done implements agent.done: runs the merge pipeline for coding agents and
// a plain deregistration for planners.
func (s *SharedState) Done(ctx context.Context, agentID string) error {
	s.Agents.Lock()
	rec, rt, ok := s.Agents.GetLocked(agentID)
	s.Agents.Unlock()
	if !ok {
		return murmurerr.NotFound(fmt.Sprintf("agent not found: %s", agentID))
	}

	if rec.Role != protocol.AgentRoleCoding {
		return s.finishNonCoding(ctx, rec, rt)
	}

	merge := s.mergeLockFor(rec.Project)
	merge.Lock()
	defer merge.Unlock()

	pc, ok := s.configSnapshot().Project(rec.Project)
	if !ok {
		return murmurerr.NotFound(fmt.Sprintf("project not found: %s", rec.Project))
	}

	switch pc.EffectiveMergeStrategy() {
	case config.MergeStrategyPullRequest:
		return s.mergeViaPullRequest(ctx, rec, pc)
	default:
		return s.mergeDirect(ctx, rec, pc)
	}
}

func (s *SharedState) finishNonCoding(ctx context.Context, rec AgentRecord, rt *AgentRuntime) error {
	if rt != nil {
		rt.SignalAbort(false)
	}
	s.Agents.Lock()
	s.Agents.DeleteLocked(rec.ID)
	s.Agents.Unlock()
	s.Broadcaster.Publish(protocol.EvtAgentDeleted, protocol.AgentDeletedEvent{AgentID: rec.ID, Project: rec.Project})
	s.persistSnapshot()
	return nil
}

func (s *SharedState) branchFor(agentID string) string { return "murmur/" + agentID }

// needsResolution transitions the agent to NeedsResolution, emits a system
// chat line, and returns the pipeline's Conflict error. The worktree and
// claim are left untouched by the caller (§4.I: "keep the worktree", "do
// not release the claim").
func (s *SharedState) needsResolution(rec AgentRecord, reason, errMsg string) error {
	s.Agents.Lock()
	s.Agents.ApplyLocked(rec.ID, EvNeedsResolution{Reason: reason}, nowMs())
	s.Agents.Unlock()
	msg := protocol.ChatMessage{Role: protocol.ChatRoleSystem, Content: reason, TsMs: nowMs()}
	s.Agents.Lock()
	_, rt, _ := s.Agents.GetLocked(rec.ID)
	s.Agents.Unlock()
	if rt != nil {
		rt.appendHistory(msg)
	}
	s.Broadcaster.Publish(protocol.EvtAgentChat, protocol.AgentChatEvent{AgentID: rec.ID, Project: rec.Project, Message: msg})
	s.persistSnapshot()
	return murmurerr.Conflict(errMsg)
}

// mergeDirect implements §4.I's direct strategy.
func (s *SharedState) mergeDirect(ctx context.Context, rec AgentRecord, pc config.ProjectConfig) error {
	repoDir := s.Paths.ProjectRepoDir(rec.Project)
	branch := s.branchFor(rec.ID)

	base, err := s.Git.DefaultBranch(ctx, repoDir)
	if err != nil {
		return s.needsResolution(rec, "failed to determine base branch: "+err.Error(), "merge conflict (agent needs resolution)")
	}

	if _, err := s.Git.CommitAll(ctx, rec.WorktreeDir, "agent: commit work in progress"); err != nil {
		return s.needsResolution(rec, "failed to commit agent work: "+err.Error(), "merge conflict (agent needs resolution)")
	}

	if err := s.Git.Fetch(ctx, rec.WorktreeDir, "origin"); err != nil {
		return s.needsResolution(rec, "failed to fetch base branch: "+err.Error(), "merge conflict (agent needs resolution)")
	}
	if err := s.Git.MergeFFOnly(ctx, rec.WorktreeDir, "origin/"+base); err != nil {
		return s.needsResolution(rec, "merge conflict merging base into agent branch: "+err.Error(), "merge conflict (agent needs resolution)")
	}

	if err := s.Git.Fetch(ctx, repoDir, "origin"); err != nil {
		return s.needsResolution(rec, "failed to fetch in main repo: "+err.Error(), "merge conflict (agent needs resolution)")
	}
	if err := s.Git.Checkout(ctx, repoDir, base); err != nil {
		return s.needsResolution(rec, "failed to check out base branch: "+err.Error(), "merge conflict (agent needs resolution)")
	}
	sha, err := s.Git.MergeNoFF(ctx, repoDir, branch, fmt.Sprintf("merge agent %s (issue %s)", rec.ID, rec.IssueID))
	if err != nil {
		return s.needsResolution(rec, "merge conflict merging agent branch: "+err.Error(), "merge conflict (agent needs resolution)")
	}
	if err := s.Git.Push(ctx, repoDir, base, false); err != nil {
		return s.needsResolution(rec, "failed to push merged base branch: "+err.Error(), "merge conflict (agent needs resolution)")
	}

	ib := s.issueBackendFor(pc)
	if rec.IssueID != "" {
		if err := ib.Close(ctx, rec.IssueID); err != nil {
			return s.needsResolution(rec, "failed to close issue: "+err.Error(), "merge conflict (agent needs resolution)")
		}
	}
	if _, err := ib.Commit(ctx); err != nil {
		return s.needsResolution(rec, "failed to commit issue bookkeeping: "+err.Error(), "merge conflict (agent needs resolution)")
	}

	s.appendCommit(rec.Project, protocol.CommitRecord{
		Project: rec.Project, Sha: sha, Branch: branch, AgentID: rec.ID, IssueID: rec.IssueID, MergedAtMs: nowMs(),
	})

	return s.teardownMergedAgent(ctx, rec, true)
}

// mergeViaPullRequest implements §4.I's pull-request strategy.
func (s *SharedState) mergeViaPullRequest(ctx context.Context, rec AgentRecord, pc config.ProjectConfig) error {
	branch := s.branchFor(rec.ID)
	repoDir := s.Paths.ProjectRepoDir(rec.Project)

	if _, err := s.Git.CommitAll(ctx, rec.WorktreeDir, "agent: commit work in progress"); err != nil {
		return s.needsResolution(rec, "failed to commit agent work: "+err.Error(), "rebase conflict (agent needs resolution)")
	}
	if err := s.Git.Fetch(ctx, rec.WorktreeDir, "origin"); err != nil {
		return s.needsResolution(rec, "failed to fetch base branch: "+err.Error(), "rebase conflict (agent needs resolution)")
	}
	base, err := s.Git.DefaultBranch(ctx, repoDir)
	if err != nil {
		return s.needsResolution(rec, "failed to determine base branch: "+err.Error(), "rebase conflict (agent needs resolution)")
	}
	if err := s.Git.RebaseOnto(ctx, rec.WorktreeDir, "origin/"+base); err != nil {
		return s.needsResolution(rec, "rebase conflict: "+err.Error(), "rebase conflict (agent needs resolution)")
	}
	if err := s.Git.Push(ctx, rec.WorktreeDir, branch, true); err != nil {
		return s.needsResolution(rec, "failed to push rebased branch: "+err.Error(), "rebase conflict (agent needs resolution)")
	}

	ib := s.issueBackendFor(pc)
	prc, ok := ib.(pullRequestCreator)
	if !ok {
		return s.needsResolution(rec, "issue backend does not support pull requests", "rebase conflict (agent needs resolution)")
	}

	title := rec.Description
	if title == "" {
		title = fmt.Sprintf("Agent %s changes", rec.ID)
	}
	var body string
	if _, err := strconv.Atoi(rec.IssueID); err == nil {
		body = fmt.Sprintf("Closes #%s\n\nChanges from agent %s", rec.IssueID, rec.ID)
	} else {
		body = fmt.Sprintf("Changes from agent %s", rec.ID)
	}

	url, err := prc.CreatePullRequest(ctx, base, branch, title, body)
	if err != nil {
		return s.needsResolution(rec, "github pr", "github pr")
	}

	desc := rec.Description
	if desc == "" {
		desc = url
	} else {
		desc = desc + "\n" + url
	}
	s.Agents.Lock()
	s.Agents.ApplyLocked(rec.ID, EvDescribed{Description: desc}, nowMs())
	s.Agents.Unlock()

	return s.teardownMergedAgent(ctx, rec, false)
}

// teardownMergedAgent stops the runtime, releases the claim, and marks the
// issue completed. It removes the worktree only for the direct strategy:
// the pull-request strategy keeps it per §4.I step 4.
func (s *SharedState) teardownMergedAgent(ctx context.Context, rec AgentRecord, removeWorktree bool) error {
	s.Agents.Lock()
	_, rt, _ := s.Agents.GetLocked(rec.ID)
	s.Agents.ApplyLocked(rec.ID, EvExited{Code: 0}, nowMs())
	s.Claims.ReleaseByAgent(rec.ID)
	s.Agents.Unlock()

	if rt != nil {
		rt.SignalAbort(false)
	}
	if removeWorktree && rec.WorktreeDir != "" {
		_ = s.WT.RemoveWorktree(ctx, rec.Project, rec.ID)
	}

	s.markIssueCompleted(rec.Project, rec.IssueID)

	s.Agents.Lock()
	s.Agents.DeleteLocked(rec.ID)
	s.Agents.Unlock()
	s.Broadcaster.Publish(protocol.EvtAgentDeleted, protocol.AgentDeletedEvent{AgentID: rec.ID, Project: rec.Project})
	s.persistSnapshot()
	return nil
}

func (s *SharedState) markIssueCompleted(project, issueID string) {
	if issueID == "" {
		return
	}
	s.CompletedMu.Lock()
	defer s.CompletedMu.Unlock()
	set, ok := s.CompletedIssues[project]
	if !ok {
		set = make(map[string]bool)
		s.CompletedIssues[project] = set
	}
	set[issueID] = true
}

func (s *SharedState) isIssueCompleted(project, issueID string) bool {
	s.CompletedMu.Lock()
	defer s.CompletedMu.Unlock()
	return s.CompletedIssues[project][issueID]
}

func (s *SharedState) appendCommit(project string, rec protocol.CommitRecord) {
	s.CommitsMu.Lock()
	defer s.CommitsMu.Unlock()
	s.Commits[project] = append(s.Commits[project], rec)
}

// ListCommits implements commit.list.
func (s *SharedState) ListCommits(project string, limit int) []protocol.CommitRecord {
	s.CommitsMu.Lock()
	defer s.CommitsMu.Unlock()
	all := s.Commits[project]
	if limit <= 0 || limit >= len(all) {
		out := make([]protocol.CommitRecord, len(all))
		copy(out, all)
		return out
	}
	start := len(all) - limit
	out := make([]protocol.CommitRecord, limit)
	copy(out, all[start:])
	return out
}
