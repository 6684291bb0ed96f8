package daemon

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/paths"
	"github.com/karan-zipline/murmur/internal/protocol"
)

// TestDispatchUnknownTypeDoesNotPanic verifies property 6: an unknown
// request type gets a typed failure response, not a dropped connection.
func TestDispatchUnknownTypeDoesNotPanic(t *testing.T) {
	s := New(paths.Paths{}, config.ConfigFile{})
	resp := s.Dispatch(context.Background(), protocol.Request{Type: "bogus.thing", ID: "r-1"})
	if resp.Success {
		t.Fatalf("expected failure for unknown type")
	}
	if resp.Error != "unknown request type: bogus.thing" {
		t.Fatalf("unexpected error message: %q", resp.Error)
	}
	if resp.ID != "r-1" || resp.Type != "bogus.thing" {
		t.Fatalf("response must echo request id/type: %+v", resp)
	}
}

// TestDispatchIgnoresExtraFields verifies property 6's "extra JSON fields
// are ignored" half for a real payload shape (project.status).
func TestDispatchIgnoresExtraFields(t *testing.T) {
	s := New(paths.Paths{}, config.ConfigFile{})
	payload := json.RawMessage(`{"name":"demo","totally_unknown_field":123}`)
	resp := s.Dispatch(context.Background(), protocol.Request{Type: protocol.MsgProjectStatus, ID: "r-2", Payload: payload})
	if resp.Success {
		t.Fatalf("expected failure for unknown project, got success")
	}
	// The important part: the extra field did not cause a parse failure
	// ("invalid payload: ..."); the error is the expected NotFound.
	if resp.Error == "" || resp.Error == "invalid payload: json: unknown field \"totally_unknown_field\"" {
		t.Fatalf("unexpected error: %q", resp.Error)
	}
}

// TestDispatchPing exercises the control RPC end to end through Dispatch.
func TestDispatchPing(t *testing.T) {
	s := New(paths.Paths{}, config.ConfigFile{})
	s.PID = 4242
	resp := s.Dispatch(context.Background(), protocol.Request{Type: protocol.MsgPing, ID: "r-3"})
	if !resp.Success {
		t.Fatalf("ping failed: %s", resp.Error)
	}
	data, err := json.Marshal(resp.Payload)
	if err != nil {
		t.Fatal(err)
	}
	var pr protocol.PingResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		t.Fatal(err)
	}
	if pr.Pid != 4242 || pr.Protocol != protocol.ProtocolVersion {
		t.Fatalf("unexpected ping response: %+v", pr)
	}
}
