// Branch cleanup (§6.6): delete remote origin/murmur/* branches already
// merged into the project's default branch, detected via `git cherry`.
// Idempotent: a branch already deleted or already merged is simply not
// reported twice (property 10).
package daemon

import (
	"context"
	"fmt"
	"strings"

	"github.com/karan-zipline/murmur/internal/murmurerr"
)

// CleanupBranches implements the §6.6 branch-cleanup maintenance pass for
// one project: after a fetch, every origin/murmur/<agent_id>
// remote-tracking branch (refs/remotes/origin/murmur/ in the main repo
// clone) that is fully merged into the default branch is deleted on origin. Branches still referenced by a non-terminal agent are
// skipped even if technically merged, so an agent mid-flight never has its
// branch yanked out from under it.
func (s *SharedState) CleanupBranches(ctx context.Context, project string) ([]string, error) {
	pc, ok := s.configSnapshot().Project(project)
	if !ok {
		return nil, murmurerr.NotFound(fmt.Sprintf("project not found: %s", project))
	}
	repoDir := s.Paths.ProjectRepoDir(pc.Name)

	base, err := s.Git.DefaultBranch(ctx, repoDir)
	if err != nil {
		return nil, err
	}
	if err := s.Git.Fetch(ctx, repoDir, "origin"); err != nil {
		return nil, err
	}

	refs, err := s.Git.ListRefsShort(ctx, repoDir, "refs/remotes/origin/murmur/")
	if err != nil {
		return nil, err
	}

	inFlight := s.branchesInFlight(project)

	var deleted []string
	for _, ref := range refs {
		branch := strings.TrimPrefix(ref, "origin/")
		if inFlight[branch] {
			continue
		}
		unmerged, err := s.Git.CherryUnmerged(ctx, repoDir, "origin/"+base, ref)
		if err != nil {
			continue // best-effort: a branch git can't diff is left alone, not fatal to the pass
		}
		if unmerged {
			continue
		}
		if err := s.Git.DeleteRemoteBranch(ctx, repoDir, branch); err != nil {
			continue // already deleted by a prior/concurrent pass: idempotent, not an error
		}
		deleted = append(deleted, branch)
	}
	return deleted, nil
}

// branchesInFlight returns the set of "murmur/<agent_id>" branch names still
// owned by a non-terminal agent of the project.
func (s *SharedState) branchesInFlight(project string) map[string]bool {
	inFlight := make(map[string]bool)
	for _, rec := range s.Agents.List(project) {
		if !rec.Terminal() {
			inFlight["murmur/"+rec.ID] = true
		}
	}
	return inFlight
}
