package daemon

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/paths"
	"github.com/karan-zipline/murmur/internal/protocol"
)

func newRehydrateTestPaths(t *testing.T) paths.Paths {
	t.Helper()
	root := t.TempDir()
	p := paths.Paths{
		ConfigDir:   filepath.Join(root, "config"),
		DataDir:     filepath.Join(root, "data"),
		ProjectsDir: filepath.Join(root, "data", "projects"),
		PlansDir:    filepath.Join(root, "data", "plans"),
		RuntimeDir:  root,
		SocketPath:  filepath.Join(root, "murmur.sock"),
		LogPath:     filepath.Join(root, "murmur.log"),
		ConfigFile:  filepath.Join(root, "config", "config.toml"),
		AgentsFile:  filepath.Join(root, "data", "runtime", "agents.json"),
	}
	if err := p.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	return p
}

func writeSnapshot(t *testing.T, p paths.Paths, records []AgentRecord) {
	t.Helper()
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(p.AgentsFile), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.AgentsFile, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestRehydrateDropsAgentWhenWorktreeGone verifies a surviving-on-paper
// agent whose worktree directory no longer exists is not reattached.
func TestRehydrateDropsAgentWhenWorktreeGone(t *testing.T) {
	p := newRehydrateTestPaths(t)
	writeSnapshot(t, p, []AgentRecord{{
		ID: "a-1", Project: "demo", Role: protocol.AgentRoleCoding,
		State: protocol.AgentStateRunning, WorktreeDir: filepath.Join(p.ProjectsDir, "demo", "worktrees", "wt-a-1"),
	}})

	s := New(p, config.ConfigFile{})
	if err := s.Rehydrate(); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if _, ok := s.Agents.Get("a-1"); ok {
		t.Fatal("expected agent to be dropped: worktree directory does not exist")
	}
}

// TestRehydrateKeepsLiveSurvivorByPid verifies property 9: a surviving
// process whose cmdline looks like an agent binary is reattached with its
// pid and last known state intact (though with no live I/O channels).
func TestRehydrateKeepsLiveSurvivorByPid(t *testing.T) {
	p := newRehydrateTestPaths(t)
	wt := filepath.Join(p.ProjectsDir, "demo", "worktrees", "wt-a-1")
	if err := os.MkdirAll(wt, 0o755); err != nil {
		t.Fatal(err)
	}

	// Spawn a long-lived process whose argv0 looks like "codex" so
	// pidLooksLikeAgent's /proc/<pid>/cmdline sniff matches it.
	fakeCodex := filepath.Join(t.TempDir(), "codex")
	if err := os.Symlink("/bin/sleep", fakeCodex); err != nil {
		t.Skipf("cannot symlink fake codex binary: %v", err)
	}
	cmd := exec.Command(fakeCodex, "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start fake agent process: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()
	pid := cmd.Process.Pid

	writeSnapshot(t, p, []AgentRecord{{
		ID: "a-1", Project: "demo", Role: protocol.AgentRoleCoding,
		State: protocol.AgentStateRunning, WorktreeDir: wt, Pid: &pid,
	}})

	s := New(p, config.ConfigFile{})
	if err := s.Rehydrate(); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	rec, ok := s.Agents.Get("a-1")
	if !ok {
		t.Fatal("expected live survivor to be rehydrated")
	}
	if rec.State != protocol.AgentStateRunning || rec.Pid == nil || *rec.Pid != pid {
		t.Fatalf("unexpected rehydrated record: %+v", rec)
	}
	s.Agents.Lock()
	_, rt, _ := s.Agents.GetLocked("a-1")
	s.Agents.Unlock()
	if rt != nil {
		t.Fatal("rehydrated agent must have no runtime")
	}
}

// TestRehydrateDropsAgentOnPidReuse verifies the PID-reuse guard: a pid
// whose /proc/<pid>/cmdline exists but does not mention claude/codex (e.g.
// reused by an unrelated process) causes the agent to be dropped.
func TestRehydrateDropsAgentOnPidReuse(t *testing.T) {
	p := newRehydrateTestPaths(t)
	wt := filepath.Join(p.ProjectsDir, "demo", "worktrees", "wt-a-1")
	if err := os.MkdirAll(wt, 0o755); err != nil {
		t.Fatal(err)
	}

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start unrelated process: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()
	pid := cmd.Process.Pid

	writeSnapshot(t, p, []AgentRecord{{
		ID: "a-1", Project: "demo", Role: protocol.AgentRoleCoding,
		State: protocol.AgentStateRunning, WorktreeDir: wt, Pid: &pid,
	}})

	s := New(p, config.ConfigFile{})
	if err := s.Rehydrate(); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if _, ok := s.Agents.Get("a-1"); ok {
		t.Fatal("expected agent to be dropped: pid reused by an unrelated process")
	}
}

// TestReseedNextAgentIDFromWorktreeDirs verifies id monotonicity (property
// 3): after rehydration, NextAgentID equals the highest "wt-a-<n>" seen on
// disk, so the next allocated id exceeds it, even with no persisted
// snapshot at all.
func TestReseedNextAgentIDFromWorktreeDirs(t *testing.T) {
	p := newRehydrateTestPaths(t)
	for _, n := range []string{"wt-a-3", "wt-a-7", "wt-a-2"} {
		if err := os.MkdirAll(filepath.Join(p.ProjectsDir, "demo", "worktrees", n), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	s := New(p, config.ConfigFile{})
	if err := s.Rehydrate(); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if got := s.NextAgentID.Load(); got != 7 {
		t.Fatalf("expected NextAgentID seeded to 7, got %d", got)
	}
	next := s.nextAgentIDString("a")
	if next != "a-8" {
		t.Fatalf("expected next allocated id a-8, got %s", next)
	}
}
