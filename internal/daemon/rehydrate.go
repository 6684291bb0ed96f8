// Rehydration (§4.K): the agent-runtime snapshot persisted on every state
// change, and the startup reconciliation against live PIDs and worktrees.
package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// persistSnapshot writes the current agent records to disk, best-effort
// (§5 "Shared-resource policy": persisted after every state change,
// best-effort). Failures are logged, never returned to the caller, since no
// RPC response should fail because the snapshot write lost a race with disk
// pressure.
func (s *SharedState) persistSnapshot() {
	records := s.Agents.List("")
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		slog.Warn("marshal agent snapshot", "err", err)
		return
	}
	tmp := s.Paths.AgentsFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.Paths.AgentsFile), 0o755); err != nil {
		slog.Warn("creating runtime dir for agent snapshot", "err", err)
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Warn("writing agent snapshot", "err", err)
		return
	}
	if err := os.Rename(tmp, s.Paths.AgentsFile); err != nil {
		slog.Warn("renaming agent snapshot into place", "err", err)
	}
}

var (
	worktreeIDRe = regexp.MustCompile(`^wt-a-(\d+)$`)
	branchIDRe   = regexp.MustCompile(`^murmur/a-(\d+)$`)
	planIDRe     = regexp.MustCompile(`^plan-(\d+)\.md$`)
)

// Rehydrate implements §4.K: load the persisted snapshot, reconcile each
// non-terminal entry against the live process table and worktree
// directories, and re-seed the next-agent-id counter from the highest id
// found across worktree dirs, branch refs, and plan files.
func (s *SharedState) Rehydrate() error {
	data, err := os.ReadFile(s.Paths.AgentsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var records []AgentRecord
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("parsing agent snapshot, skipping rehydration", "err", err)
		return nil
	}

	for _, rec := range records {
		if rec.Terminal() {
			continue
		}
		if rec.WorktreeDir != "" {
			if _, err := os.Stat(rec.WorktreeDir); err != nil {
				slog.Info("dropping rehydrated agent: worktree gone", "agent_id", rec.ID)
				continue
			}
		}
		if rec.Pid != nil {
			if !pidLooksLikeAgent(*rec.Pid) {
				slog.Info("dropping rehydrated agent: pid reused or gone", "agent_id", rec.ID, "pid", *rec.Pid)
				continue
			}
		}
		s.Agents.Lock()
		s.Agents.InsertLocked(rec, nil)
		s.Agents.Unlock()
		slog.Info("rehydrated agent", "agent_id", rec.ID, "project", rec.Project, "state", rec.State)
	}

	s.reseedNextAgentID()
	return nil
}

// pidLooksLikeAgent checks /proc/<pid>/cmdline for a "claude" or "codex"
// substring, guarding against PID reuse after a daemon restart.
func pidLooksLikeAgent(pid int) bool {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return false
	}
	cmdline := strings.ToLower(strings.ReplaceAll(string(data), "\x00", " "))
	return strings.Contains(cmdline, "claude") || strings.Contains(cmdline, "codex")
}

// reseedNextAgentID scans worktree directory names, branch refs, and plan
// file names for the highest "a-<n>"/"plan-<n>" suffix and raises
// NextAgentID to it (never lowering it). NextAgentID holds the last number
// handed out and nextAgentIDString increments it before use, so newly
// spawned agents get max+1 and never reuse an id that already exists on
// disk even if the snapshot itself was stale or missing.
func (s *SharedState) reseedNextAgentID() {
	max := uint64(0)
	bump := func(n uint64) {
		if n > max {
			max = n
		}
	}

	entries, _ := os.ReadDir(s.Paths.ProjectsDir)
	for _, proj := range entries {
		if !proj.IsDir() {
			continue
		}
		wtDir := s.Paths.ProjectWorktreesDir(proj.Name())
		wtEntries, _ := os.ReadDir(wtDir)
		for _, wt := range wtEntries {
			if m := worktreeIDRe.FindStringSubmatch(wt.Name()); m != nil {
				if n, err := strconv.ParseUint(m[1], 10, 64); err == nil {
					bump(n)
				}
			}
		}
		refs, err := s.Git.ListRefsShort(context.Background(), s.Paths.ProjectRepoDir(proj.Name()), "refs/heads/murmur/")
		if err == nil {
			for _, ref := range refs {
				if m := branchIDRe.FindStringSubmatch(ref); m != nil {
					if n, err := strconv.ParseUint(m[1], 10, 64); err == nil {
						bump(n)
					}
				}
			}
		}
	}

	planEntries, _ := os.ReadDir(s.Paths.PlansDir)
	for _, pf := range planEntries {
		if m := planIDRe.FindStringSubmatch(pf.Name()); m != nil {
			if n, err := strconv.ParseUint(m[1], 10, 64); err == nil {
				bump(n)
			}
		}
	}

	for {
		cur := s.NextAgentID.Load()
		if cur >= max {
			return
		}
		if s.NextAgentID.CompareAndSwap(cur, max) {
			return
		}
	}
}
