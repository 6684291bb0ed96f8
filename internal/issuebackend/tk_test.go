package issuebackend

import (
	"context"
	"testing"

	"github.com/karan-zipline/murmur/internal/protocol"
)

func TestTkCreateGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tk := &Tk{Dir: dir}
	ctx := context.Background()

	id, err := tk.Create(ctx, protocol.IssueCreateRequest{
		Title:       "fix the thing",
		Description: "details here",
		Priority:    2,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := tk.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "fix the thing" || got.Description != "details here" || got.Priority != 2 {
		t.Fatalf("unexpected issue: %+v", got)
	}
	if got.Status != protocol.IssueStatusOpen {
		t.Fatalf("new issue status = %q, want open", got.Status)
	}
	if got.IssueType != "task" {
		t.Fatalf("default issue type = %q, want task", got.IssueType)
	}
}

func TestTkGetMissingIsNotFound(t *testing.T) {
	dir := t.TempDir()
	tk := &Tk{Dir: dir}
	if _, err := tk.Get(context.Background(), "i999"); err == nil {
		t.Fatal("expected not-found error for missing issue")
	}
}

func TestTkReadyRespectsDependencies(t *testing.T) {
	dir := t.TempDir()
	tk := &Tk{Dir: dir}
	ctx := context.Background()

	blocker, err := tk.Create(ctx, protocol.IssueCreateRequest{Title: "blocker"})
	if err != nil {
		t.Fatalf("create blocker: %v", err)
	}
	blocked, err := tk.Create(ctx, protocol.IssueCreateRequest{Title: "blocked", Dependencies: []string{blocker}})
	if err != nil {
		t.Fatalf("create blocked: %v", err)
	}

	ready, err := tk.Ready(ctx)
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	ids := map[string]bool{}
	for _, r := range ready {
		ids[r.ID] = true
	}
	if !ids[blocker] {
		t.Fatal("expected blocker to be ready")
	}
	if ids[blocked] {
		t.Fatal("expected blocked issue to not be ready before its dependency closes")
	}

	if err := tk.Close(ctx, blocker); err != nil {
		t.Fatalf("close: %v", err)
	}
	ready, err = tk.Ready(ctx)
	if err != nil {
		t.Fatalf("ready after close: %v", err)
	}
	ids = map[string]bool{}
	for _, r := range ready {
		ids[r.ID] = true
	}
	if !ids[blocked] {
		t.Fatal("expected blocked issue to become ready once dependency closed")
	}
}

func TestTkCommentAndListComments(t *testing.T) {
	dir := t.TempDir()
	tk := &Tk{Dir: dir}
	ctx := context.Background()

	id, err := tk.Create(ctx, protocol.IssueCreateRequest{Title: "needs notes"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tk.Comment(ctx, id, "first note"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if err := tk.Comment(ctx, id, "second note"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	comments, err := tk.ListComments(ctx, id)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d: %v", len(comments), comments)
	}
}

func TestTkUpdatePartialFields(t *testing.T) {
	dir := t.TempDir()
	tk := &Tk{Dir: dir}
	ctx := context.Background()

	id, err := tk.Create(ctx, protocol.IssueCreateRequest{Title: "orig", Priority: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	newTitle := "renamed"
	if err := tk.Update(ctx, protocol.IssueUpdateRequest{ID: id, Title: &newTitle}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := tk.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "renamed" || got.Priority != 1 {
		t.Fatalf("unexpected issue after partial update: %+v", got)
	}
}
