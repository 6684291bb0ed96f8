package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/karan-zipline/murmur/internal/config"
)

// TestBranchCleanupIdempotence verifies property 10: running branch
// cleanup twice deletes a merged branch exactly once, and the second run
// reports nothing further to delete.
func TestBranchCleanupIdempotence(t *testing.T) {
	s, origin := newTestState(t, config.MergeStrategyDirect)
	ctx := context.Background()
	repoDir := s.Paths.ProjectRepoDir("demo")

	// Push a feature branch to origin that's fully merged into main, the
	// way a completed agent's branch would be left after a direct merge.
	seed := t.TempDir()
	runGit(t, "", "clone", origin, seed)
	runGit(t, seed, "config", "user.email", "test@example.com")
	runGit(t, seed, "config", "user.name", "Test")
	runGit(t, seed, "checkout", "-b", "murmur/a-1")
	if err := os.WriteFile(filepath.Join(seed, "feature.txt"), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, seed, "add", "feature.txt")
	runGit(t, seed, "commit", "-m", "feature")
	runGit(t, seed, "push", "origin", "murmur/a-1")
	runGit(t, seed, "checkout", "main")
	runGit(t, seed, "merge", "--no-ff", "-m", "merge feature", "murmur/a-1")
	runGit(t, seed, "push", "origin", "main")

	deleted, err := s.CleanupBranches(ctx, "demo")
	if err != nil {
		t.Fatalf("CleanupBranches: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "murmur/a-1" {
		t.Fatalf("expected murmur/a-1 deleted, got %v", deleted)
	}

	// Refresh repoDir's view of origin before the second pass so the
	// already-deleted ref isn't listed again from a stale remote-tracking
	// branch.
	runGit(t, repoDir, "fetch", "origin")

	deletedAgain, err := s.CleanupBranches(ctx, "demo")
	if err != nil {
		t.Fatalf("CleanupBranches (second run): %v", err)
	}
	if len(deletedAgain) != 0 {
		t.Fatalf("expected second run to be a no-op, got %v", deletedAgain)
	}
}

// TestBranchCleanupSkipsInFlightAgent verifies a branch still owned by a
// non-terminal agent is left alone even if it happens to already be merged.
func TestBranchCleanupSkipsInFlightAgent(t *testing.T) {
	s, origin := newTestState(t, config.MergeStrategyDirect)
	ctx := context.Background()

	seed := t.TempDir()
	runGit(t, "", "clone", origin, seed)
	runGit(t, seed, "config", "user.email", "test@example.com")
	runGit(t, seed, "config", "user.name", "Test")
	runGit(t, seed, "checkout", "-b", "murmur/a-1")
	if err := os.WriteFile(filepath.Join(seed, "f.txt"), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, seed, "add", "f.txt")
	runGit(t, seed, "commit", "-m", "feature")
	runGit(t, seed, "push", "origin", "murmur/a-1")
	runGit(t, seed, "checkout", "main")
	runGit(t, seed, "merge", "--no-ff", "-m", "merge feature", "murmur/a-1")
	runGit(t, seed, "push", "origin", "main")

	// createTestAgent always allocates agent id "a-1" (see merge_test.go),
	// matching the murmur/a-1 branch just pushed above.
	createTestAgent(t, s, "demo", "9")

	deleted, err := s.CleanupBranches(ctx, "demo")
	if err != nil {
		t.Fatalf("CleanupBranches: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("expected in-flight agent's branch to be skipped, got %v", deleted)
	}
}
