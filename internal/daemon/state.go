// Package daemon is the long-lived supervisor core: shared state, agent
// supervision, the merge pipeline, the permission/question gate,
// rehydration, orchestrator loops and the socket server that dispatches RPC
// requests against all of the above.
package daemon

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karan-zipline/murmur/internal/agent"
	"github.com/karan-zipline/murmur/internal/agent/claude"
	"github.com/karan-zipline/murmur/internal/agent/codex"
	"github.com/karan-zipline/murmur/internal/claims"
	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/gitutil"
	"github.com/karan-zipline/murmur/internal/issuebackend"
	"github.com/karan-zipline/murmur/internal/paths"
	"github.com/karan-zipline/murmur/internal/protocol"
	"github.com/karan-zipline/murmur/internal/worktree"
)

// PendingPermission is one in-flight permission.request awaiting a
// permission.respond (or the 5-minute timeout).
type PendingPermission struct {
	Req      protocol.PermissionRequest
	Resolved chan protocol.PermissionResponse
	once     sync.Once
}

func (p *PendingPermission) resolve(resp protocol.PermissionResponse) bool {
	done := false
	p.once.Do(func() {
		p.Resolved <- resp
		done = true
	})
	return done
}

// PendingQuestion is the question.request analogue of PendingPermission.
type PendingQuestion struct {
	Req      protocol.UserQuestion
	Resolved chan protocol.UserQuestionResponse
	once     sync.Once
}

func (p *PendingQuestion) resolve(resp protocol.UserQuestionResponse) bool {
	done := false
	p.once.Do(func() {
		p.Resolved <- resp
		done = true
	})
	return done
}

// OrchestratorRuntime is the live handle for one project's orchestration
// loop goroutine.
type OrchestratorRuntime struct {
	Project string
	Cancel  func()
	TickCh  chan struct{}
	Running bool
}

// SharedState is the daemon's single top-level container, passed by
// pointer to every component (§4.N). Its guards must be acquired in the
// documented order: config -> agents -> claims -> merge_lock(project).
// Broadcast sends and mpsc-style channel sends always happen outside locks.
type SharedState struct {
	Paths paths.Paths
	Git   gitutil.Git
	WT    *worktree.Manager

	StartedAt time.Time
	PID       int

	ConfigMu sync.Mutex
	Config   config.ConfigFile

	Agents *AgentsState
	Claims *claims.Registry

	PermMu             sync.Mutex
	PendingPermissions map[string]*PendingPermission

	QuestionMu        sync.Mutex
	PendingQuestions  map[string]*PendingQuestion

	CompletedMu     sync.Mutex
	CompletedIssues map[string]map[string]bool // project -> issue ids

	OrchMu        sync.Mutex
	Orchestrators map[string]*OrchestratorRuntime

	MergeLocksMu sync.Mutex
	MergeLocks   map[string]*sync.Mutex

	CommitsMu sync.Mutex
	Commits   map[string][]protocol.CommitRecord

	NextEventID atomic.Uint64
	NextConnID  atomic.Uint64
	NextAgentID atomic.Uint64
	NextPlanID  atomic.Uint64

	Broadcaster *Broadcaster

	ClaudeBackend agent.Backend
	CodexBackend  agent.Backend

	llmMu  sync.Mutex
	llms   map[string]*llmChecker

	shutdownOnce sync.Once
	ShutdownCh   chan struct{}

	// RootCtx is cancelled once on shutdown, reaching every long-lived
	// goroutine derived from it (orchestrator loops) without needing a
	// second shutdown-specific signal per project.
	RootCtx    context.Context
	RootCancel context.CancelFunc

	WG sync.WaitGroup
}

// New builds a SharedState from a loaded config and resolved paths. It does
// not start any goroutines; callers invoke Run (server.go) for that.
func New(p paths.Paths, cf config.ConfigFile) *SharedState {
	s := &SharedState{
		Paths:               p,
		Git:                 gitutil.Git{},
		StartedAt:           time.Now(),
		PID:                 os.Getpid(),
		Config:              cf,
		Agents:              newAgentsState(),
		Claims:              claims.New(),
		PendingPermissions:  make(map[string]*PendingPermission),
		PendingQuestions:    make(map[string]*PendingQuestion),
		CompletedIssues:     make(map[string]map[string]bool),
		Orchestrators:       make(map[string]*OrchestratorRuntime),
		MergeLocks:          make(map[string]*sync.Mutex),
		Commits:             make(map[string][]protocol.CommitRecord),
		ClaudeBackend:       &claude.Backend{},
		CodexBackend:        &codex.Backend{},
		llms:                make(map[string]*llmChecker),
		ShutdownCh:          make(chan struct{}),
	}
	s.WT = worktree.New(s.Git, p)
	s.Broadcaster = NewBroadcaster(&s.NextEventID)
	s.RootCtx, s.RootCancel = context.WithCancel(context.Background())
	return s
}

// mergeLockFor returns (creating if needed) the immortal per-project merge
// mutex. Per §9's design notes, this map entry is never removed even after
// project.remove: dropping it would allow a stale holder to mutate state
// after the project is gone.
func (s *SharedState) mergeLockFor(project string) *sync.Mutex {
	s.MergeLocksMu.Lock()
	defer s.MergeLocksMu.Unlock()
	m, ok := s.MergeLocks[project]
	if !ok {
		m = &sync.Mutex{}
		s.MergeLocks[project] = m
	}
	return m
}

// configSnapshot returns a cloned ConfigFile under the config lock.
func (s *SharedState) configSnapshot() config.ConfigFile {
	s.ConfigMu.Lock()
	defer s.ConfigMu.Unlock()
	return s.Config.Clone()
}

// replaceConfig validates, persists, and swaps in a new ConfigFile.
func (s *SharedState) replaceConfig(next config.ConfigFile) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if err := config.Save(s.Paths.ConfigFile, next); err != nil {
		return err
	}
	s.ConfigMu.Lock()
	s.Config = next
	s.ConfigMu.Unlock()
	return nil
}

// issueBackendFor constructs the IssueBackend collaborator for a project
// per its configured issue-backend.
func (s *SharedState) issueBackendFor(pc config.ProjectConfig) issuebackend.Backend {
	switch pc.EffectiveIssueBackend() {
	case config.IssueBackendGitHub:
		return &issuebackend.GitHub{}
	case config.IssueBackendLinear:
		return &issuebackend.Linear{}
	default:
		return &issuebackend.Tk{
			Dir:     s.Paths.ProjectIssuesDir(pc.Name),
			Git:     s.Git,
			RepoDir: s.Paths.ProjectRepoDir(pc.Name),
		}
	}
}

func (s *SharedState) agentBackendFor(h protocol.AgentRole, pc config.ProjectConfig) (agent.Backend, string) {
	var backend config.AgentBackend
	switch h {
	case protocol.AgentRolePlanner:
		backend = pc.EffectivePlannerBackend()
	default:
		backend = pc.EffectiveCodingBackend()
	}
	if backend == config.AgentBackendClaude {
		return s.ClaudeBackend, string(config.AgentBackendClaude)
	}
	return s.CodexBackend, string(config.AgentBackendCodex)
}

func nowMs() int64 { return time.Now().UnixMilli() }
