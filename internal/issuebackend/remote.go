package issuebackend

import (
	"context"

	"github.com/karan-zipline/murmur/internal/murmurerr"
	"github.com/karan-zipline/murmur/internal/protocol"
)

// notImplemented is shared by tracker backends whose API client hasn't
// been wired in yet. Projects configured for "github" or "linear" still
// validate and start; only issue operations fail until a client lands.
func notImplemented(backend string) error {
	return murmurerr.InvalidInput(backend + " issue backend is not implemented yet")
}

// GitHub is a placeholder for the github-issues backend named in project
// config (issue_backend = "github"). Left unimplemented: wiring a GitHub
// client needs API-token plumbing the daemon core doesn't carry yet.
type GitHub struct{}

func (g *GitHub) List(ctx context.Context) ([]protocol.IssueSummary, error) { return nil, notImplemented("github") }
func (g *GitHub) Get(ctx context.Context, id string) (protocol.Issue, error) {
	return protocol.Issue{}, notImplemented("github")
}
func (g *GitHub) Ready(ctx context.Context) ([]protocol.IssueSummary, error) {
	return nil, notImplemented("github")
}
func (g *GitHub) Create(ctx context.Context, req protocol.IssueCreateRequest) (string, error) {
	return "", notImplemented("github")
}
func (g *GitHub) Update(ctx context.Context, req protocol.IssueUpdateRequest) error {
	return notImplemented("github")
}
func (g *GitHub) Close(ctx context.Context, id string) error           { return notImplemented("github") }
func (g *GitHub) Comment(ctx context.Context, id, body string) error   { return notImplemented("github") }
func (g *GitHub) ListComments(ctx context.Context, id string) ([]string, error) {
	return nil, notImplemented("github")
}
func (g *GitHub) Plan(ctx context.Context, id, plan string) error { return notImplemented("github") }
func (g *GitHub) Commit(ctx context.Context) (bool, error)        { return false, nil }

// CreatePullRequest opens a PR for branch against base. Used by the
// pull-request merge strategy; returns the PR URL.
func (g *GitHub) CreatePullRequest(ctx context.Context, base, branch, title, body string) (string, error) {
	return "", notImplemented("github")
}

// Linear is a placeholder for the linear-issues backend (issue_backend =
// "linear"), paired with the linear-team/linear-project config keys
// already modeled in config.ProjectConfig.
type Linear struct{}

func (l *Linear) List(ctx context.Context) ([]protocol.IssueSummary, error) { return nil, notImplemented("linear") }
func (l *Linear) Get(ctx context.Context, id string) (protocol.Issue, error) {
	return protocol.Issue{}, notImplemented("linear")
}
func (l *Linear) Ready(ctx context.Context) ([]protocol.IssueSummary, error) {
	return nil, notImplemented("linear")
}
func (l *Linear) Create(ctx context.Context, req protocol.IssueCreateRequest) (string, error) {
	return "", notImplemented("linear")
}
func (l *Linear) Update(ctx context.Context, req protocol.IssueUpdateRequest) error {
	return notImplemented("linear")
}
func (l *Linear) Close(ctx context.Context, id string) error         { return notImplemented("linear") }
func (l *Linear) Comment(ctx context.Context, id, body string) error { return notImplemented("linear") }
func (l *Linear) ListComments(ctx context.Context, id string) ([]string, error) {
	return nil, notImplemented("linear")
}
func (l *Linear) Plan(ctx context.Context, id, plan string) error { return notImplemented("linear") }
func (l *Linear) Commit(ctx context.Context) (bool, error)        { return false, nil }
