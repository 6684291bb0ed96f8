// Package issuebackend abstracts the issue-tracking system a project is
// wired to. "tk" is the default file-backed tracker (Markdown body plus
// YAML frontmatter, one file per issue, committed to the project's repo);
// github and linear are named Open Questions in the distilled spec and are
// stubbed out until a concrete API client is wired in.
package issuebackend

import (
	"context"

	"github.com/karan-zipline/murmur/internal/protocol"
)

// Backend is the per-tracker driver the daemon's RPC layer dispatches to.
type Backend interface {
	List(ctx context.Context) ([]protocol.IssueSummary, error)
	Get(ctx context.Context, id string) (protocol.Issue, error)
	Ready(ctx context.Context) ([]protocol.IssueSummary, error)
	Create(ctx context.Context, req protocol.IssueCreateRequest) (string, error)
	Update(ctx context.Context, req protocol.IssueUpdateRequest) error
	Close(ctx context.Context, id string) error
	Comment(ctx context.Context, id, body string) error
	ListComments(ctx context.Context, id string) ([]string, error)
	Plan(ctx context.Context, id, plan string) error
	// Commit persists any pending on-disk changes (new/updated/closed
	// issues) to the project's repo, returning true if anything changed.
	Commit(ctx context.Context) (bool, error)
}
