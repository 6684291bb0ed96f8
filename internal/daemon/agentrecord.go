// Agent record state machine: AgentRecord is the persisted/wire-mirrorable
// half of an agent (survives rehydration); AgentRuntime (see supervisor.go)
// is the live half (channels, the subprocess handle) that cannot.
package daemon

import (
	"strings"

	"github.com/karan-zipline/murmur/internal/protocol"
)

// AgentRecord is the daemon's view of one agent, independent of whether its
// subprocess is still attached. ApplyEvent is the only way to mutate one.
type AgentRecord struct {
	ID            string
	Role          protocol.AgentRole
	Project       string
	IssueID       string
	State         protocol.AgentState
	CreatedAtMs   int64
	UpdatedAtMs   int64
	Backend       string
	Description   string
	WorktreeDir   string
	Pid           *int
	ExitCode      *int
	CodexThreadID string
	LastIdleAtMs  *int64
}

// Info projects an AgentRecord onto its wire representation.
func (a AgentRecord) Info() protocol.AgentInfo {
	return protocol.AgentInfo{
		ID:            a.ID,
		Project:       a.Project,
		Role:          a.Role,
		IssueID:       a.IssueID,
		State:         a.State,
		CreatedAtMs:   a.CreatedAtMs,
		UpdatedAtMs:   a.UpdatedAtMs,
		Backend:       a.Backend,
		Description:   a.Description,
		WorktreeDir:   a.WorktreeDir,
		Pid:           a.Pid,
		ExitCode:      a.ExitCode,
		CodexThreadID: a.CodexThreadID,
		IdleSinceMs:   a.LastIdleAtMs,
	}
}

// Terminal reports whether the agent is in a state that will never change
// again on its own (Exited or Aborted).
func (a AgentRecord) Terminal() bool {
	return a.State == protocol.AgentStateExited || a.State == protocol.AgentStateAborted
}

// AgentEvent is the closed set of transitions §4.H's ApplyEvent accepts.
type AgentEvent interface{ isAgentEvent() }

type EvSpawned struct{ Pid int }
type EvBecameIdle struct{}
type EvNeedsResolution struct{ Reason string }
type EvAssignedIssue struct{ IssueID string }
type EvDescribed struct{ Description string }
type EvAborted struct{ By string }
type EvExited struct{ Code int }

func (EvSpawned) isAgentEvent()         {}
func (EvBecameIdle) isAgentEvent()      {}
func (EvNeedsResolution) isAgentEvent() {}
func (EvAssignedIssue) isAgentEvent()   {}
func (EvDescribed) isAgentEvent()       {}
func (EvAborted) isAgentEvent()         {}
func (EvExited) isAgentEvent()          {}

// ApplyEvent implements the transition table in §4.H, returning the updated
// record. It never mutates a in place; callers hold the agents lock and
// replace their copy with the result.
func ApplyEvent(a AgentRecord, ev AgentEvent, nowMs int64) AgentRecord {
	a.UpdatedAtMs = nowMs
	switch e := ev.(type) {
	case EvSpawned:
		if a.State == protocol.AgentStateStarting {
			a.State = protocol.AgentStateRunning
		}
		pid := e.Pid
		a.Pid = &pid
	case EvBecameIdle:
		// The wire AgentState enum carries no separate Idle value (see
		// DESIGN.md); idle-ness is the presence of LastIdleAtMs alone.
		t := nowMs
		a.LastIdleAtMs = &t
	case EvNeedsResolution:
		if a.State != protocol.AgentStateAborted {
			a.State = protocol.AgentStateNeedsResolution
			if a.Description == "" {
				a.Description = e.Reason
			} else {
				a.Description = strings.TrimSpace(a.Description + "\n" + e.Reason)
			}
		}
	case EvAssignedIssue:
		a.IssueID = e.IssueID
	case EvDescribed:
		a.Description = e.Description
	case EvAborted:
		a.State = protocol.AgentStateAborted
	case EvExited:
		code := e.Code
		a.ExitCode = &code
		if a.State != protocol.AgentStateAborted {
			a.State = protocol.AgentStateExited
		}
	}
	return a
}
