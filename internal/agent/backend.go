// Package agent defines the Backend abstraction the supervisor drives: a
// concrete AI CLI (claude or codex) spawned as a subprocess, whose stdout
// frames are decoded into ChatMessages. The shape mirrors the teacher's
// agent.Backend interface but generalizes Start to cover both the
// long-lived-stream (claude) and per-turn (codex) process models.
package agent

import (
	"context"
	"io"

	"github.com/karan-zipline/murmur/internal/protocol"
)

// Harness names the concrete backend driving an agent.
type Harness string

const (
	HarnessClaude Harness = "claude"
	HarnessCodex  Harness = "codex"
)

// StartOptions carries everything a Backend needs to spawn its subprocess.
type StartOptions struct {
	AgentID       string
	Project       string
	WorktreeDir   string
	MurmurDir     string
	SocketPath    string
	Prompt        string
	CodexThreadID string // resume hint, codex only
	IsManager     bool
}

// Process is the live handle to a spawned agent subprocess.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Pid    int
	Wait   func() error
	Kill   func() error
}

// Backend is the per-CLI driver the supervisor uses to spawn a process and
// translate its wire frames into ChatMessages.
type Backend interface {
	// Start spawns the subprocess for this turn (codex) or for the agent's
	// whole lifetime (claude).
	Start(ctx context.Context, opts StartOptions) (*Process, error)
	// ParseFrame decodes one raw stdout line into zero or more ChatMessages
	// plus an optional updated codex thread id.
	ParseFrame(line []byte) (messages []protocol.ChatMessage, threadID string, idle bool, err error)
	// Harness identifies the concrete backend.
	Harness() Harness
}
