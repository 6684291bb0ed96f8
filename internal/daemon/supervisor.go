// Agent supervisor (§4.H): spawn sequence, per-agent goroutines, and the
// abort/send-message/claim/describe RPC bodies.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/karan-zipline/murmur/internal/agent"
	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/murmurerr"
	"github.com/karan-zipline/murmur/internal/protocol"
)

const abortGraceDelay = 2 * time.Second

func (s *SharedState) nextAgentIDString(prefix string) string {
	n := s.NextAgentID.Add(1)
	return prefix + "-" + strconv.FormatUint(n, 10)
}

// SpawnCoding implements the coding-agent half of the §4.H spawn sequence,
// including the claim-before-any-I/O step.
func (s *SharedState) SpawnCoding(ctx context.Context, project, issueID, description string) (AgentRecord, error) {
	pc, ok := s.configSnapshot().Project(project)
	if !ok {
		return AgentRecord{}, murmurerr.NotFound(fmt.Sprintf("project not found: %s", project))
	}

	agentID := s.nextAgentIDString("a")

	// Claim before any I/O (step 2).
	if err := s.Claims.Claim(project, issueID, agentID); err != nil {
		return AgentRecord{}, err
	}

	rec, err := s.spawnCommon(ctx, project, agentID, protocol.AgentRoleCoding, issueID, description, pc, false)
	if err != nil {
		s.Claims.Release(project, issueID)
		return AgentRecord{}, err
	}
	return rec, nil
}

// SpawnPlanner starts a planner agent. Planners may run with no project
// bound yet (the §3 "may be empty for managers/planners" allowance); when a
// project is given, a worktree is allocated the same way as for coding
// agents.
func (s *SharedState) SpawnPlanner(ctx context.Context, project, prompt string) (AgentRecord, error) {
	var pc config.ProjectConfig
	if project != "" {
		var ok bool
		pc, ok = s.configSnapshot().Project(project)
		if !ok {
			return AgentRecord{}, murmurerr.NotFound(fmt.Sprintf("project not found: %s", project))
		}
	}
	agentID := s.nextAgentIDString("plan")
	return s.spawnCommon(ctx, project, agentID, protocol.AgentRolePlanner, "", prompt, pc, false)
}

// StartManager starts the single manager agent for a project. Conflicts if
// one is already running.
func (s *SharedState) StartManager(ctx context.Context, project string) (AgentRecord, error) {
	pc, ok := s.configSnapshot().Project(project)
	if !ok {
		return AgentRecord{}, murmurerr.NotFound(fmt.Sprintf("project not found: %s", project))
	}
	if _, running := s.Agents.ManagerFor(project); running {
		return AgentRecord{}, murmurerr.Conflict(fmt.Sprintf("manager already running for %s", project))
	}
	agentID := "manager-" + project
	return s.spawnCommon(ctx, project, agentID, protocol.AgentRoleManager, "", "", pc, true)
}

// spawnCommon implements steps 3-9 of §4.H shared by every role.
func (s *SharedState) spawnCommon(ctx context.Context, project, agentID string, role protocol.AgentRole, issueID, prompt string, pc config.ProjectConfig, isManager bool) (AgentRecord, error) {
	var worktreeDir, baseBranch string
	if project != "" {
		info, err := s.WT.CreateAgentWorktree(ctx, project, agentID)
		if err != nil {
			return AgentRecord{}, err
		}
		worktreeDir, baseBranch = info.Dir, info.BaseBranch
	}
	_ = baseBranch

	backend, backendName := s.agentBackendFor(role, pc)

	now := nowMs()
	rec := AgentRecord{
		ID:          agentID,
		Role:        role,
		Project:     project,
		IssueID:     issueID,
		State:       protocol.AgentStateStarting,
		CreatedAtMs: now,
		UpdatedAtMs: now,
		Backend:     backendName,
		WorktreeDir: worktreeDir,
	}
	rt := newAgentRuntime()
	rt.Backend = backend

	// Insert BEFORE spawning: the subprocess may call back via agent.claim
	// / agent.describe and must find itself registered (§9 design notes).
	s.Agents.Lock()
	s.Agents.InsertLocked(rec, rt)
	s.Agents.Unlock()
	s.Broadcaster.Publish(protocol.EvtAgentCreated, protocol.AgentCreatedEvent{Agent: rec.Info()})
	s.persistSnapshot()

	if logDir := s.projectLogsDir(project); logDir != "" {
		if lg, err := openSessionLog(logDir, agentID); err != nil {
			slog.Warn("opening agent session log", "agent_id", agentID, "err", err)
		} else {
			rt.Log = lg
		}
	}

	opts := agent.StartOptions{
		AgentID:     agentID,
		Project:     project,
		WorktreeDir: worktreeDir,
		MurmurDir:   s.Paths.DataDir,
		SocketPath:  s.Paths.SocketPath,
		Prompt:      prompt,
		IsManager:   isManager,
	}
	// The subprocess must survive cancellation of ctx (an orchestrator tick's
	// per-project loop context, or any other caller-scoped context): only
	// Abort or daemon shutdown may kill it, never a plain orchestration stop
	// (§4.L — abortAgents is an explicit opt-in). Start it under s.RootCtx.
	proc, err := backend.Start(s.RootCtx, opts)
	if err != nil {
		s.Agents.Lock()
		s.Agents.DeleteLocked(agentID)
		s.Agents.Unlock()
		if worktreeDir != "" {
			_ = s.WT.RemoveWorktree(ctx, project, agentID)
		}
		return AgentRecord{}, murmurerr.IO("spawning agent subprocess").Wrap(err)
	}
	rt.Process = proc
	rt.Opts = opts

	s.Agents.Lock()
	rec, _ = s.Agents.ApplyLocked(agentID, EvSpawned{Pid: proc.Pid}, nowMs())
	s.Agents.Unlock()
	s.persistSnapshot()

	s.launchAgentTasks(agentID, rec.Project, rt)
	return rec, nil
}

func (s *SharedState) projectLogsDir(project string) string {
	if project == "" {
		return ""
	}
	return s.Paths.ProjectLogsDir(project)
}

// launchAgentTasks starts the stdin writer, stdout decoder and reaper
// goroutines for a freshly spawned subprocess (step 8).
func (s *SharedState) launchAgentTasks(agentID, project string, rt *AgentRuntime) {
	s.WG.Add(3)
	go s.stdinWriter(agentID, rt)
	go s.stdoutDecoder(agentID, project, rt)
	go s.reaper(agentID, project, rt)
}

// stdinWriter drains rt.Input and serializes each message as a framed JSON
// line on the subprocess's stdin (claude's continuous-stream model; codex
// never uses this because each turn is its own subprocess started fresh).
func (s *SharedState) stdinWriter(agentID string, rt *AgentRuntime) {
	defer s.WG.Done()
	if rt.Backend.Harness() != agent.HarnessClaude || rt.Process == nil {
		return
	}
	for msg := range rt.Input {
		envelope := map[string]any{
			"type": "user",
			"message": map[string]any{
				"role":    "user",
				"content": msg.Content,
			},
		}
		data, err := jsonMarshal(envelope)
		if err != nil {
			slog.Warn("marshal stdin envelope", "agent_id", agentID, "err", err)
			continue
		}
		rt.Log.append("in", envelope)
		if _, err := rt.Process.Stdin.Write(append(data, '\n')); err != nil {
			slog.Warn("writing agent stdin", "agent_id", agentID, "err", err)
			return
		}
	}
}

// stdoutDecoder reads framed lines from the subprocess and applies the
// backend's ParseFrame, appending resulting ChatMessages to history in
// decode order and emitting agent.chat events (step 8, stdout decoder).
func (s *SharedState) stdoutDecoder(agentID, project string, rt *AgentRuntime) {
	defer s.WG.Done()
	if rt.Process == nil || rt.Process.Stdout == nil {
		return
	}
	scanLines(rt.Process.Stdout, func(line []byte) bool {
		msgs, threadID, idle, err := rt.Backend.ParseFrame(line)
		if err != nil {
			slog.Warn("decoding agent stdout frame", "agent_id", agentID, "err", err)
			return true
		}
		rt.Log.append("out", string(line))
		if threadID != "" {
			s.Agents.Lock()
			if rec, ok := s.Agents.records[agentID]; ok {
				rec.CodexThreadID = threadID
				rec.UpdatedAtMs = nowMs()
				s.Agents.records[agentID] = rec
			}
			s.Agents.Unlock()
		}
		for _, m := range msgs {
			rt.appendHistory(m)
			s.Broadcaster.Publish(protocol.EvtAgentChat, protocol.AgentChatEvent{AgentID: agentID, Project: project, Message: m})
		}
		if idle {
			s.markIdle(agentID, project)
		}
		return true
	})
}

// markIdle applies BecameIdle and emits agent.idle (step 9, and codex's
// per-turn completion path).
func (s *SharedState) markIdle(agentID, project string) {
	s.Agents.Lock()
	rec, ok := s.Agents.ApplyLocked(agentID, EvBecameIdle{}, nowMs())
	s.Agents.Unlock()
	if !ok {
		return
	}
	s.Broadcaster.Publish(protocol.EvtAgentIdle, protocol.AgentChatEvent{AgentID: agentID, Project: project})
	s.persistSnapshot()
	_ = rec
}

// reaper awaits process exit and applies Exited unless the agent was
// already Aborted, per §4.H step 8.
func (s *SharedState) reaper(agentID, project string, rt *AgentRuntime) {
	defer s.WG.Done()
	if rt.Process == nil {
		return
	}

	exitCh := make(chan error, 1)
	go func() { exitCh <- rt.Process.Wait() }()

	select {
	case <-rt.AbortRequested():
		grace := abortGraceDelay
		if rt.isForced() {
			grace = 0
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			_ = rt.Process.Kill()
		case <-exitCh:
			timer.Stop()
			rt.shutInput()
			rt.Log.closeAndCompress()
			s.finalizeExit(agentID, 0)
			return
		}
		err := <-exitCh
		rt.shutInput()
		rt.Log.closeAndCompress()
		s.finalizeExit(agentID, exitCodeOf(err))
	case err := <-exitCh:
		rt.shutInput()
		rt.Log.closeAndCompress()
		s.finalizeExit(agentID, exitCodeOf(err))
	}
}

func (s *SharedState) finalizeExit(agentID string, code int) {
	s.Agents.Lock()
	s.Agents.ApplyLocked(agentID, EvExited{Code: code}, nowMs())
	s.Agents.Unlock()
	s.persistSnapshot()
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	type exitCoder interface{ ExitCode() int }
	if ee, ok := err.(exitCoder); ok {
		return ee.ExitCode()
	}
	if ws, ok := exitErrorOf(err); ok {
		return ws
	}
	return -1
}

// Abort implements agent.abort (§4.H Abort).
func (s *SharedState) Abort(agentID string, force bool) error {
	s.Agents.Lock()
	rec, rt, ok := s.Agents.GetLocked(agentID)
	if !ok {
		s.Agents.Unlock()
		return murmurerr.NotFound(fmt.Sprintf("agent not found: %s", agentID))
	}
	rec, _ = s.Agents.ApplyLocked(agentID, EvAborted{By: "rpc"}, nowMs())
	s.Claims.ReleaseByAgent(agentID)
	s.Agents.Unlock()
	s.persistSnapshot()

	if rt == nil {
		// Rehydrated agent: no process to signal, nothing more to do.
		return nil
	}
	if !force {
		rt.trySend(protocol.ChatMessage{Role: protocol.ChatRoleUser, Content: "/quit", TsMs: nowMs()})
	}
	rt.SignalAbort(force)
	_ = rec
	return nil
}

// SendMessage implements agent.send_message (§4.H Send message).
func (s *SharedState) SendMessage(ctx context.Context, agentID, message string) error {
	s.Agents.Lock()
	rec, rt, ok := s.Agents.GetLocked(agentID)
	s.Agents.Unlock()
	if !ok {
		return murmurerr.NotFound(fmt.Sprintf("agent not found: %s", agentID))
	}
	if rec.State == protocol.AgentStateAborted {
		return murmurerr.Conflict("agent is aborted")
	}
	if rec.Backend == string(config.AgentBackendClaude) {
		if rec.State != protocol.AgentStateRunning && rec.State != protocol.AgentStateNeedsResolution {
			return murmurerr.Conflict(fmt.Sprintf("agent not accepting messages in state %s", rec.State))
		}
	}
	if rt == nil {
		return murmurerr.ChannelClosed("agent channel closed")
	}

	msg := protocol.ChatMessage{Role: protocol.ChatRoleUser, Content: message, TsMs: nowMs()}
	rt.appendHistory(msg)
	s.Broadcaster.Publish(protocol.EvtAgentChat, protocol.AgentChatEvent{AgentID: agentID, Project: rec.Project, Message: msg})

	if rt.Backend.Harness() == agent.HarnessCodex {
		return s.launchNextCodexTurn(ctx, agentID, rec, rt, message)
	}

	if !rt.trySend(msg) {
		return murmurerr.ChannelClosed("agent channel closed")
	}
	return nil
}

// launchNextCodexTurn spawns the next per-turn codex subprocess, resuming
// the thread recorded on the agent (design note 9: codex is one subprocess
// per turn rather than one continuous stream).
func (s *SharedState) launchNextCodexTurn(ctx context.Context, agentID string, rec AgentRecord, rt *AgentRuntime, message string) error {
	opts := rt.Opts
	opts.Prompt = message
	opts.CodexThreadID = rec.CodexThreadID

	proc, err := rt.Backend.Start(ctx, opts)
	if err != nil {
		return murmurerr.IO("starting codex turn").Wrap(err)
	}
	rt.Process = proc
	rt.Opts = opts

	s.Agents.Lock()
	s.Agents.ApplyLocked(agentID, EvSpawned{Pid: proc.Pid}, nowMs())
	s.Agents.Unlock()

	s.WG.Add(1)
	go s.stdoutDecoder(agentID, rec.Project, rt)
	s.WG.Add(1)
	go s.reaper(agentID, rec.Project, rt)
	return nil
}

// Claim implements agent.claim: lets an agent started without an issue
// (e.g. one dispatched by a manager) bind one after the fact. Idempotent
// for the same agent.
func (s *SharedState) Claim(agentID, issueID string) error {
	s.Agents.Lock()
	rec, _, ok := s.Agents.GetLocked(agentID)
	if !ok {
		s.Agents.Unlock()
		return murmurerr.NotFound(fmt.Sprintf("agent not found: %s", agentID))
	}
	if err := s.Claims.Claim(rec.Project, issueID, agentID); err != nil {
		s.Agents.Unlock()
		return err
	}
	s.Agents.ApplyLocked(agentID, EvAssignedIssue{IssueID: issueID}, nowMs())
	s.Agents.Unlock()
	s.persistSnapshot()
	return nil
}

// Describe implements agent.describe.
func (s *SharedState) Describe(agentID, description string) error {
	s.Agents.Lock()
	_, _, ok := s.Agents.GetLocked(agentID)
	if !ok {
		s.Agents.Unlock()
		return murmurerr.NotFound(fmt.Sprintf("agent not found: %s", agentID))
	}
	s.Agents.ApplyLocked(agentID, EvDescribed{Description: description}, nowMs())
	s.Agents.Unlock()
	s.persistSnapshot()
	return nil
}

// Delete implements agent.delete: drops a terminal agent's record; its
// worktree is left on disk. Non-terminal agents must be aborted first.
func (s *SharedState) Delete(ctx context.Context, agentID string) error {
	s.Agents.Lock()
	rec, _, ok := s.Agents.GetLocked(agentID)
	if !ok {
		s.Agents.Unlock()
		return murmurerr.NotFound(fmt.Sprintf("agent not found: %s", agentID))
	}
	if !rec.Terminal() {
		s.Agents.Unlock()
		return murmurerr.Conflict("agent must be aborted or exited before delete")
	}
	s.Agents.DeleteLocked(agentID)
	s.Agents.Unlock()
	s.Broadcaster.Publish(protocol.EvtAgentDeleted, protocol.AgentDeletedEvent{AgentID: agentID, Project: rec.Project})
	s.persistSnapshot()
	return nil
}

// ChatHistory implements agent.chat_history.
func (s *SharedState) ChatHistory(agentID string, limit int) ([]protocol.ChatMessage, error) {
	s.Agents.Lock()
	_, rt, ok := s.Agents.GetLocked(agentID)
	s.Agents.Unlock()
	if !ok {
		return nil, murmurerr.NotFound(fmt.Sprintf("agent not found: %s", agentID))
	}
	if rt == nil {
		return nil, nil
	}
	return rt.historySnapshot(limit), nil
}
