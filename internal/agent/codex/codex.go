// Package codex drives the `codex` CLI backend: one subprocess per turn,
// each emitting its own JSON-lines record stream on stdout, rather than
// claude's one continuous record stream. Each turn's process is started fresh
// with `codex exec --json`, resuming the prior thread by id when one is
// known. Record decoding follows the teacher's codex/record.go tolerant
// pattern: probe the discriminator, decode the typed struct, collect and
// warn on any fields the struct doesn't claim.
package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/karan-zipline/murmur/internal/agent"
	"github.com/karan-zipline/murmur/internal/protocol"
)

// Backend implements agent.Backend for the codex CLI.
type Backend struct {
	// Bin overrides the codex executable, mainly for tests.
	Bin string
}

func (b *Backend) bin() string {
	if b.Bin != "" {
		return b.Bin
	}
	return "codex"
}

func (b *Backend) Harness() agent.Harness { return agent.HarnessCodex }

// Start spawns one codex subprocess for a single turn. When opts.CodexThreadID
// is set, the turn resumes that thread instead of starting a new one; this
// is how the supervisor carries one conversation across per-turn processes.
func (b *Backend) Start(ctx context.Context, opts agent.StartOptions) (*agent.Process, error) {
	args := []string{"exec", "--json", "--skip-git-repo-check"}
	if opts.CodexThreadID != "" {
		args = append(args, "resume", opts.CodexThreadID)
	}
	if opts.Prompt != "" {
		args = append(args, opts.Prompt)
	}

	cmd := exec.CommandContext(ctx, b.bin(), args...)
	cmd.Dir = opts.WorktreeDir
	cmd.Env = append(os.Environ(),
		"MURMUR_AGENT_ID="+opts.AgentID,
		"MURMUR_DIR="+opts.MurmurDir,
		"MURMUR_PROJECT="+opts.Project,
		"MURMUR_SOCKET_PATH="+opts.SocketPath,
	)
	if opts.IsManager {
		cmd.Env = append(cmd.Env, "FUGUE_MANAGER=1")
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("codex stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("codex stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("codex stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("codex start: %w", err)
	}
	go slogWriter(stderr, opts.AgentID)

	return &agent.Process{
		Stdin:  stdin,
		Stdout: stdout,
		Pid:    cmd.Process.Pid,
		Wait:   cmd.Wait,
		Kill: func() error {
			if cmd.Process == nil {
				return nil
			}
			return cmd.Process.Kill()
		},
	}, nil
}

// ParseFrame decodes one stdout line of a codex turn into zero or more
// ChatMessages. A turn.completed or turn.failed record marks the agent
// idle; item.completed records surface assistant text and file changes;
// thread.started carries the thread id the supervisor must remember for
// the next turn's `resume <thread_id>` argument.
func (b *Backend) ParseFrame(line []byte) ([]protocol.ChatMessage, string, bool, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, "", false, fmt.Errorf("codex record: %w", err)
	}
	now := time.Now().UnixMilli()
	switch rec.Type {
	case TypeThreadStarted:
		ts, err := rec.AsThreadStarted()
		if err != nil {
			slog.Warn("malformed codex thread.started", "err", err)
			return nil, "", false, nil
		}
		return nil, ts.ThreadID, false, nil

	case TypeTurnCompleted:
		tc, err := rec.AsTurnCompleted()
		if err != nil {
			slog.Warn("malformed codex turn.completed", "err", err)
			return nil, "", true, nil
		}
		msg := protocol.ChatMessage{
			Role: protocol.ChatRoleSystem,
			Content: fmt.Sprintf("turn completed (input=%d cached=%d output=%d tokens)",
				tc.Usage.InputTokens, tc.Usage.CachedInputTokens, tc.Usage.OutputTokens),
			TsMs: now,
		}
		return []protocol.ChatMessage{msg}, "", true, nil

	case TypeTurnFailed:
		tf, err := rec.AsTurnFailed()
		if err != nil {
			slog.Warn("malformed codex turn.failed", "err", err)
			return nil, "", true, nil
		}
		return []protocol.ChatMessage{{
			Role:    protocol.ChatRoleSystem,
			Content: tf.Error,
			IsError: true,
			TsMs:    now,
		}}, "", true, nil

	case TypeItemCompleted:
		it, err := rec.AsItem()
		if err != nil {
			slog.Warn("malformed codex item.completed", "err", err)
			return nil, "", false, nil
		}
		return itemToChatMessages(it.Item, now), "", false, nil

	default:
		slog.Warn("unknown codex record type", "type", rec.Type)
		return nil, "", false, nil
	}
}

func itemToChatMessages(item ItemData, now int64) []protocol.ChatMessage {
	switch item.Type {
	case ItemTypeAgentMessage:
		if item.Text == "" {
			return nil
		}
		return []protocol.ChatMessage{{Role: protocol.ChatRoleAssistant, Content: item.Text, TsMs: now}}
	case ItemTypeFileChange:
		if len(item.Changes) == 0 {
			return nil
		}
		input, _ := json.Marshal(item.Changes)
		return []protocol.ChatMessage{{
			Role:      protocol.ChatRoleTool,
			ToolName:  "file_change",
			ToolInput: json.RawMessage(input),
			ToolUseID: item.ID,
			TsMs:      now,
		}}
	default:
		slog.Warn("unrecognized codex item type", "type", item.Type)
		return nil
	}
}

// slogWriter splits stderr into lines and logs each at WARN. Mirrors
// claude.slogWriter; codex's stderr tends to carry sandbox diagnostics
// worth keeping even on a successful turn.
func slogWriter(r interface{ Read([]byte) (int, error) }, agentID string) {
	buf := make([]byte, 4096)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				idx := -1
				for i, c := range pending {
					if c == '\n' {
						idx = i
						break
					}
				}
				if idx < 0 {
					break
				}
				line := pending[:idx]
				pending = pending[idx+1:]
				if len(line) > 0 {
					slog.Warn("codex stderr", "agent_id", agentID, "line", string(line))
				}
			}
		}
		if err != nil {
			return
		}
	}
}
