// Issue operations (§6.3 Issues): thin RPC-facing wrappers delegating to
// the per-project IssueBackend collaborator.
package daemon

import (
	"context"
	"fmt"

	"github.com/karan-zipline/murmur/internal/murmurerr"
	"github.com/karan-zipline/murmur/internal/protocol"
)

func (s *SharedState) issueBackendForProject(project string) (issueOps, error) {
	pc, ok := s.configSnapshot().Project(project)
	if !ok {
		return nil, murmurerr.NotFound(fmt.Sprintf("project not found: %s", project))
	}
	return s.issueBackendFor(pc), nil
}

// issueOps is the subset of issuebackend.Backend this file drives; named
// locally so the package doesn't need to import issuebackend just to spell
// the return type of issueBackendForProject.
type issueOps interface {
	List(ctx context.Context) ([]protocol.IssueSummary, error)
	Get(ctx context.Context, id string) (protocol.Issue, error)
	Ready(ctx context.Context) ([]protocol.IssueSummary, error)
	Create(ctx context.Context, req protocol.IssueCreateRequest) (string, error)
	Update(ctx context.Context, req protocol.IssueUpdateRequest) error
	Close(ctx context.Context, id string) error
	Comment(ctx context.Context, id, body string) error
	ListComments(ctx context.Context, id string) ([]string, error)
	Plan(ctx context.Context, id, plan string) error
	Commit(ctx context.Context) (bool, error)
}

// IssueList implements issue.list.
func (s *SharedState) IssueList(ctx context.Context, project string) ([]protocol.IssueSummary, error) {
	ib, err := s.issueBackendForProject(project)
	if err != nil {
		return nil, err
	}
	return ib.List(ctx)
}

// IssueGet implements issue.get.
func (s *SharedState) IssueGet(ctx context.Context, project, id string) (protocol.Issue, error) {
	ib, err := s.issueBackendForProject(project)
	if err != nil {
		return protocol.Issue{}, err
	}
	return ib.Get(ctx, id)
}

// IssueReady implements issue.ready.
func (s *SharedState) IssueReady(ctx context.Context, project string) ([]protocol.IssueSummary, error) {
	ib, err := s.issueBackendForProject(project)
	if err != nil {
		return nil, err
	}
	return ib.Ready(ctx)
}

// IssueCreate implements issue.create.
func (s *SharedState) IssueCreate(ctx context.Context, req protocol.IssueCreateRequest) (string, error) {
	ib, err := s.issueBackendForProject(req.Project)
	if err != nil {
		return "", err
	}
	return ib.Create(ctx, req)
}

// IssueUpdate implements issue.update, returning the issue as it reads back
// after the update.
func (s *SharedState) IssueUpdate(ctx context.Context, req protocol.IssueUpdateRequest) (protocol.Issue, error) {
	ib, err := s.issueBackendForProject(req.Project)
	if err != nil {
		return protocol.Issue{}, err
	}
	if err := ib.Update(ctx, req); err != nil {
		return protocol.Issue{}, err
	}
	return ib.Get(ctx, req.ID)
}

// IssueClose implements issue.close.
func (s *SharedState) IssueClose(ctx context.Context, project, id string) error {
	ib, err := s.issueBackendForProject(project)
	if err != nil {
		return err
	}
	return ib.Close(ctx, id)
}

// IssueComment implements issue.comment.
func (s *SharedState) IssueComment(ctx context.Context, project, id, body string) error {
	ib, err := s.issueBackendForProject(project)
	if err != nil {
		return err
	}
	return ib.Comment(ctx, id, body)
}

// IssueListComments implements issue.list_comments.
func (s *SharedState) IssueListComments(ctx context.Context, project, id string) ([]string, error) {
	ib, err := s.issueBackendForProject(project)
	if err != nil {
		return nil, err
	}
	return ib.ListComments(ctx, id)
}

// IssuePlan implements issue.plan.
func (s *SharedState) IssuePlan(ctx context.Context, project, id, plan string) error {
	ib, err := s.issueBackendForProject(project)
	if err != nil {
		return err
	}
	return ib.Plan(ctx, id, plan)
}

// IssueCommit implements issue.commit.
func (s *SharedState) IssueCommit(ctx context.Context, project string) (bool, error) {
	ib, err := s.issueBackendForProject(project)
	if err != nil {
		return false, err
	}
	return ib.Commit(ctx)
}

// SyncComments implements agent.sync_comments: an agent pushes a batch of
// comment bodies it authored locally back through the IssueBackend, for
// trackers where comments aren't otherwise observable by the daemon.
func (s *SharedState) SyncComments(ctx context.Context, agentID, issueID string, comments []string) error {
	rec, ok := s.Agents.Get(agentID)
	if !ok {
		return murmurerr.NotFound(fmt.Sprintf("agent not found: %s", agentID))
	}
	ib, err := s.issueBackendForProject(rec.Project)
	if err != nil {
		return err
	}
	for _, c := range comments {
		if err := ib.Comment(ctx, issueID, c); err != nil {
			return err
		}
	}
	return nil
}
