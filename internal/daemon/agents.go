package daemon

import (
	"sync"

	"github.com/karan-zipline/murmur/internal/agent"
	"github.com/karan-zipline/murmur/internal/protocol"
)

// AgentRuntime is the live half of an agent: the stdin queue, abort signal
// and subprocess handle. Rehydrated agents have a nil AgentRuntime; any
// send against them fails with ChannelClosed.
type AgentRuntime struct {
	Backend agent.Backend
	Opts    agent.StartOptions // last Start() options, reused by codex to launch the next turn
	Process *agent.Process
	Log     *sessionLog

	Input chan protocol.ChatMessage

	historyMu sync.Mutex
	history   *chatRing

	mu         sync.Mutex
	abortCh    chan struct{}
	abortOnce  sync.Once
	Force      bool
	inputMu    sync.Mutex
	inputShut  bool
}

func newAgentRuntime() *AgentRuntime {
	return &AgentRuntime{
		Input:   make(chan protocol.ChatMessage, 64),
		abortCh: make(chan struct{}),
		history: newChatRing(defaultChatRingSize),
	}
}

// trySend pushes msg onto the stdin queue unless it has already been shut
// down, avoiding the send-on-closed-channel panic that a bare close+select
// race would otherwise allow.
func (rt *AgentRuntime) trySend(msg protocol.ChatMessage) bool {
	rt.inputMu.Lock()
	defer rt.inputMu.Unlock()
	if rt.inputShut {
		return false
	}
	select {
	case rt.Input <- msg:
		return true
	default:
		return false
	}
}

// shutInput closes the stdin queue exactly once, guarded against a racing
// trySend.
func (rt *AgentRuntime) shutInput() {
	rt.inputMu.Lock()
	defer rt.inputMu.Unlock()
	if rt.inputShut {
		return
	}
	rt.inputShut = true
	close(rt.Input)
}

// appendHistory records a chat message in the history ring; callers
// broadcast it themselves afterwards, matching the teacher's "append then
// emit" ordering.
func (rt *AgentRuntime) appendHistory(m protocol.ChatMessage) {
	rt.historyMu.Lock()
	rt.history.push(m)
	rt.historyMu.Unlock()
}

func (rt *AgentRuntime) historySnapshot(limit int) []protocol.ChatMessage {
	rt.historyMu.Lock()
	defer rt.historyMu.Unlock()
	return rt.history.snapshot(limit)
}

// clearHistory discards every buffered chat message, used by
// manager.clear_history to let a long-lived manager's transcript be reset
// without killing its subprocess.
func (rt *AgentRuntime) clearHistory() {
	rt.historyMu.Lock()
	rt.history = newChatRing(defaultChatRingSize)
	rt.historyMu.Unlock()
}

// SignalAbort closes the abort channel exactly once, recording whether the
// abort is forced (immediate SIGKILL) or graceful (2s grace period).
func (rt *AgentRuntime) SignalAbort(force bool) {
	rt.mu.Lock()
	if force {
		rt.Force = true
	}
	rt.mu.Unlock()
	rt.abortOnce.Do(func() { close(rt.abortCh) })
}

// AbortRequested returns a channel that is closed once abort is signaled.
func (rt *AgentRuntime) AbortRequested() <-chan struct{} { return rt.abortCh }

func (rt *AgentRuntime) isForced() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.Force
}

// AgentsState is the agents map (§4.N): every live or rehydrated agent,
// guarded by a single mutex that must always be acquired before the claims
// registry's own lock (see SharedState's lock-order contract).
type AgentsState struct {
	mu       sync.Mutex
	records  map[string]AgentRecord
	runtimes map[string]*AgentRuntime
}

func newAgentsState() *AgentsState {
	return &AgentsState{
		records:  make(map[string]AgentRecord),
		runtimes: make(map[string]*AgentRuntime),
	}
}

// Lock/Unlock expose the coarse lock directly so callers that must also
// touch the claims registry atomically (claim, abort, done) can hold both
// under one critical section in the documented order.
func (s *AgentsState) Lock()   { s.mu.Lock() }
func (s *AgentsState) Unlock() { s.mu.Unlock() }

// InsertLocked adds a brand new record+runtime. Caller holds the lock.
func (s *AgentsState) InsertLocked(rec AgentRecord, rt *AgentRuntime) {
	s.records[rec.ID] = rec
	if rt != nil {
		s.runtimes[rec.ID] = rt
	}
}

// GetLocked returns the record and runtime (runtime may be nil for a
// rehydrated agent). Caller holds the lock.
func (s *AgentsState) GetLocked(id string) (AgentRecord, *AgentRuntime, bool) {
	rec, ok := s.records[id]
	if !ok {
		return AgentRecord{}, nil, false
	}
	return rec, s.runtimes[id], true
}

// ApplyLocked runs ApplyEvent against the stored record and saves the
// result. Caller holds the lock.
func (s *AgentsState) ApplyLocked(id string, ev AgentEvent, nowMs int64) (AgentRecord, bool) {
	rec, ok := s.records[id]
	if !ok {
		return AgentRecord{}, false
	}
	rec = ApplyEvent(rec, ev, nowMs)
	s.records[id] = rec
	return rec, true
}

// DeleteLocked removes both halves of an agent. Caller holds the lock.
func (s *AgentsState) DeleteLocked(id string) {
	delete(s.records, id)
	delete(s.runtimes, id)
}

// Get takes the lock itself; convenience for read-only callers that don't
// need the cross-registry atomicity guarantee.
func (s *AgentsState) Get(id string) (AgentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// List returns every record, optionally filtered by project.
func (s *AgentsState) List(project string) []AgentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AgentRecord, 0, len(s.records))
	for _, rec := range s.records {
		if project != "" && rec.Project != project {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// CountActiveCoding counts non-terminal coding agents for a project.
func (s *AgentsState) CountActiveCoding(project string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if rec.Project == project && rec.Role == protocol.AgentRoleCoding && !rec.Terminal() {
			n++
		}
	}
	return n
}

// ManagerFor returns the manager agent for a project, if any.
func (s *AgentsState) ManagerFor(project string) (AgentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.Project == project && rec.Role == protocol.AgentRoleManager && !rec.Terminal() {
			return rec, true
		}
	}
	return AgentRecord{}, false
}
