package codex

import (
	"testing"

	"github.com/karan-zipline/murmur/internal/protocol"
)

func TestParseFrameThreadStarted(t *testing.T) {
	b := &Backend{}
	msgs, threadID, idle, err := b.ParseFrame([]byte(`{"type":"thread.started","thread_id":"th-123"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if threadID != "th-123" {
		t.Fatalf("thread id = %q, want th-123", threadID)
	}
	if idle {
		t.Fatal("thread.started must not mark idle")
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}

func TestParseFrameThreadStartedCollectsUnknownFields(t *testing.T) {
	var rec Record
	if err := rec.UnmarshalJSON([]byte(`{"type":"thread.started","thread_id":"th-1","model":"gpt-x"}`)); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ts, err := rec.AsThreadStarted()
	if err != nil {
		t.Fatalf("AsThreadStarted: %v", err)
	}
	if ts.ThreadID != "th-1" {
		t.Fatalf("thread id = %q", ts.ThreadID)
	}
	if _, ok := ts.Extra["model"]; !ok {
		t.Fatal("expected unknown field 'model' to be collected in Extra")
	}
}

func TestParseFrameTurnCompletedMarksIdle(t *testing.T) {
	b := &Backend{}
	msgs, _, idle, err := b.ParseFrame([]byte(`{"type":"turn.completed","usage":{"input_tokens":10,"cached_input_tokens":2,"output_tokens":5}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !idle {
		t.Fatal("turn.completed must mark idle")
	}
	if len(msgs) != 1 || msgs[0].Role != protocol.ChatRoleSystem {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestParseFrameTurnFailedIsError(t *testing.T) {
	b := &Backend{}
	msgs, _, idle, err := b.ParseFrame([]byte(`{"type":"turn.failed","error":"sandbox denied exec"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !idle {
		t.Fatal("turn.failed must mark idle")
	}
	if len(msgs) != 1 || !msgs[0].IsError || msgs[0].Content != "sandbox denied exec" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestParseFrameAgentMessageItem(t *testing.T) {
	b := &Backend{}
	msgs, _, idle, err := b.ParseFrame([]byte(`{"type":"item.completed","item":{"id":"it-1","type":"agent_message","status":"completed","text":"hello there"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idle {
		t.Fatal("item.completed must not mark idle")
	}
	if len(msgs) != 1 || msgs[0].Role != protocol.ChatRoleAssistant || msgs[0].Content != "hello there" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestParseFrameFileChangeItem(t *testing.T) {
	b := &Backend{}
	msgs, _, _, err := b.ParseFrame([]byte(`{"type":"item.completed","item":{"id":"it-2","type":"file_change","status":"completed","changes":[{"path":"main.go","kind":"modify"}]}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != protocol.ChatRoleTool || msgs[0].ToolName != "file_change" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestParseFrameUnknownTypeIsSkippedNotErrored(t *testing.T) {
	b := &Backend{}
	msgs, threadID, idle, err := b.ParseFrame([]byte(`{"type":"some.future.event","payload":{}}`))
	if err != nil {
		t.Fatalf("unknown record types must not error the stream: %v", err)
	}
	if msgs != nil || threadID != "" || idle {
		t.Fatalf("expected zero-value results for unknown type, got msgs=%v threadID=%q idle=%v", msgs, threadID, idle)
	}
}

func TestHarnessIsCodex(t *testing.T) {
	b := &Backend{}
	if b.Harness() != "codex" {
		t.Fatalf("harness = %q, want codex", b.Harness())
	}
}
