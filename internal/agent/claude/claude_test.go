package claude

import (
	"testing"

	"github.com/karan-zipline/murmur/internal/agent"
	"github.com/karan-zipline/murmur/internal/protocol"
)

func TestParseFrameSystemRecordCarriesSessionID(t *testing.T) {
	b := &Backend{}
	msgs, sessionID, idle, err := b.ParseFrame([]byte(`{"type":"system","subtype":"init","session_id":"sess-1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sessionID != "sess-1" {
		t.Fatalf("session id = %q, want sess-1", sessionID)
	}
	if idle {
		t.Fatal("system record must not mark idle")
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}

func TestParseFrameUserRecord(t *testing.T) {
	b := &Backend{}
	msgs, _, idle, err := b.ParseFrame([]byte(`{"type":"user","message":{"content":"do the thing"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idle {
		t.Fatal("user record must not mark idle")
	}
	if len(msgs) != 1 || msgs[0].Role != protocol.ChatRoleUser || msgs[0].Content != "do the thing" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestParseFrameAssistantTextBlock(t *testing.T) {
	b := &Backend{}
	msgs, _, idle, err := b.ParseFrame([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idle {
		t.Fatal("assistant record must not mark idle")
	}
	if len(msgs) != 1 || msgs[0].Role != protocol.ChatRoleAssistant || msgs[0].Content != "hello" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestParseFrameAssistantToolUseBlock(t *testing.T) {
	b := &Backend{}
	msgs, _, _, err := b.ParseFrame([]byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","id":"tu-1","input":{"command":"ls"}}]}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != protocol.ChatRoleTool || msgs[0].ToolName != "Bash" || msgs[0].ToolUseID != "tu-1" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestParseFrameResultMarksIdleAndCarriesError(t *testing.T) {
	b := &Backend{}
	msgs, _, idle, err := b.ParseFrame([]byte(`{"type":"result","subtype":"error","result":"ran out of budget","is_error":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !idle {
		t.Fatal("result record must mark idle")
	}
	if len(msgs) != 1 || !msgs[0].IsError || msgs[0].Content != "ran out of budget" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestParseFrameUnknownTypeIsSkippedNotErrored(t *testing.T) {
	b := &Backend{}
	msgs, sessionID, idle, err := b.ParseFrame([]byte(`{"type":"some.future.event"}`))
	if err != nil {
		t.Fatalf("unknown record types must not error the stream: %v", err)
	}
	if msgs != nil || sessionID != "" || idle {
		t.Fatalf("expected zero-value results for unknown type, got msgs=%v sessionID=%q idle=%v", msgs, sessionID, idle)
	}
}

func TestParseFrameMalformedJSONErrors(t *testing.T) {
	b := &Backend{}
	if _, _, _, err := b.ParseFrame([]byte(`not json`)); err == nil {
		t.Fatal("expected an error decoding a non-JSON line")
	}
}

func TestHarnessIsClaude(t *testing.T) {
	b := &Backend{}
	if b.Harness() != agent.HarnessClaude {
		t.Fatalf("harness = %q, want %q", b.Harness(), agent.HarnessClaude)
	}
}

func TestClaudeSettingsJSONRegistersHooks(t *testing.T) {
	settings := claudeSettingsJSON(agent.StartOptions{AgentID: "a-1"})
	for _, hook := range []string{"PreToolUse", "PermissionRequest", "Stop"} {
		if !contains(settings, hook) {
			t.Fatalf("expected settings JSON to register hook %q, got %s", hook, settings)
		}
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
