// Package claude drives the `claude` CLI backend: one long-lived subprocess
// streaming a continuous sequence of JSON records on stdout. Record
// decoding follows the teacher's claude/reader.go DecodeRecord dispatch:
// probe the "type" field, decode the matching concrete struct, and warn+skip
// on anything unrecognized rather than failing the stream.
package claude

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

// Record type discriminators for the claude stream-json protocol.
const (
	TypeSystem    = "system"
	TypeUser      = "user"
	TypeAssistant = "assistant"
	TypeResult    = "result"
)

// Record is a single line of the claude CLI's --output-format stream-json.
type Record struct {
	Type string `json:"type"`
}

// systemRecord is emitted once at session start; its Init subtype carries
// the session id, which ParseFrame reports in its thread-id result and the
// supervisor stores on the agent record. Start never passes --resume.
type systemRecord struct {
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
}

type userRecord struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
	ID    string          `json:"id"`
}

type assistantRecord struct {
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type resultRecord struct {
	Subtype string `json:"subtype"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
}

// Backend implements agent.Backend for the claude CLI.
type Backend struct {
	// Bin overrides the claude executable, mainly for tests.
	Bin string
}

func (b *Backend) bin() string {
	if b.Bin != "" {
		return b.Bin
	}
	return "claude"
}

func (b *Backend) Harness() agent.Harness { return agent.HarnessClaude }

// Start spawns the claude subprocess for the agent's whole lifetime, piping
// stdin/stdout and line-splitting stderr into slog.Warn (never discarded).
func (b *Backend) Start(ctx context.Context, opts agent.StartOptions) (*agent.Process, error) {
	args := []string{"--output-format", "stream-json", "--input-format", "stream-json"}
	settings := claudeSettingsJSON(opts)
	args = append(args, "--settings", settings)

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
		return nil, fmt.Errorf("claude stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("claude stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("claude stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("claude start: %w", err)
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

// claudeSettingsJSON builds the --settings blob registering the three hook
// commands (PreToolUse, PermissionRequest, Stop) that re-invoke this binary
// in `hook` mode, proxying the event back to the daemon over the socket.
func claudeSettingsJSON(opts agent.StartOptions) string {
	self, err := os.Executable()
	if err != nil {
		self = "murmur"
	}
	settings := map[string]any{
		"hooks": map[string]any{
			"PreToolUse":        []string{self, "hook", "pre-tool-use"},
			"PermissionRequest": []string{self, "hook", "permission-request"},
			"Stop":              []string{self, "hook", "stop"},
		},
	}
	data, _ := json.Marshal(settings)
	return string(data)
}

// ParseFrame decodes one stdout line into zero or more ChatMessages.
func (b *Backend) ParseFrame(line []byte) ([]protocol.ChatMessage, string, bool, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, "", false, fmt.Errorf("claude record: %w", err)
	}
	now := time.Now().UnixMilli()
	switch rec.Type {
	case TypeSystem:
		var sys systemRecord
		if err := json.Unmarshal(line, &sys); err != nil {
			slog.Warn("malformed claude system record", "err", err)
			return nil, "", false, nil
		}
		return nil, sys.SessionID, false, nil
	case TypeUser:
		var u userRecord
		if err := json.Unmarshal(line, &u); err != nil {
			slog.Warn("malformed claude user record", "err", err)
			return nil, "", false, nil
		}
		return []protocol.ChatMessage{{Role: protocol.ChatRoleUser, Content: u.Message.Content, TsMs: now}}, "", false, nil
	case TypeAssistant:
		var a assistantRecord
		if err := json.Unmarshal(line, &a); err != nil {
			slog.Warn("malformed claude assistant record", "err", err)
			return nil, "", false, nil
		}
		var msgs []protocol.ChatMessage
		for _, block := range a.Message.Content {
			switch block.Type {
			case "text":
				msgs = append(msgs, protocol.ChatMessage{Role: protocol.ChatRoleAssistant, Content: block.Text, TsMs: now})
			case "tool_use":
				msgs = append(msgs, protocol.ChatMessage{
					Role:      protocol.ChatRoleTool,
					ToolName:  block.Name,
					ToolInput: json.RawMessage(block.Input),
					ToolUseID: block.ID,
					TsMs:      now,
				})
			}
		}
		return msgs, "", false, nil
	case TypeResult:
		var r resultRecord
		if err := json.Unmarshal(line, &r); err != nil {
			slog.Warn("malformed claude result record", "err", err)
			return nil, "", false, nil
		}
		return []protocol.ChatMessage{{
			Role:    protocol.ChatRoleSystem,
			Content: r.Result,
			IsError: r.IsError,
			TsMs:    now,
		}}, "", true, nil
	default:
		slog.Warn("unknown claude record type", "type", rec.Type)
		return nil, "", false, nil
	}
}

// slogWriter splits stderr into lines and logs each at WARN, grounded in
// the codex backend's slogWriter in the teacher codebase.
func slogWriter(r interface{ Read([]byte) (int, error) }, agentID string) {
	buf := make([]byte, 4096)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				idx := indexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := pending[:idx]
				pending = pending[idx+1:]
				if len(line) > 0 {
					slog.Warn("claude stderr", "agent_id", agentID, "line", string(line))
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
