package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/paths"
	"github.com/karan-zipline/murmur/internal/protocol"
)

// insertBareAgent registers a minimal AgentRecord directly, without going
// through the full spawn sequence, so the permission gate can resolve
// payload.AgentID -> project.
func insertBareAgent(s *SharedState, id, project string) {
	s.Agents.Lock()
	s.Agents.InsertLocked(AgentRecord{ID: id, Project: project, Role: protocol.AgentRoleCoding, State: protocol.AgentStateRunning}, newAgentRuntime())
	s.Agents.Unlock()
}

// TestPermissionRoundTrip verifies property 8: a permission.request blocks
// until a matching permission.respond arrives, and the response's behavior
// flows back to the requester.
func TestPermissionRoundTrip(t *testing.T) {
	s := New(paths.Paths{}, config.ConfigFile{})
	insertBareAgent(s, "a-1", "demo")

	type result struct {
		resp protocol.PermissionResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.RequestPermission(context.Background(), protocol.PermissionRequestPayload{
			AgentID:  "a-1",
			ToolName: "Bash",
		})
		done <- result{resp, err}
	}()

	var id string
	deadline := time.After(2 * time.Second)
	for id == "" {
		select {
		case <-deadline:
			t.Fatal("permission request never became pending")
		case <-time.After(10 * time.Millisecond):
			reqs := s.ListPermissions("")
			if len(reqs) == 1 {
				id = reqs[0].ID
			}
		}
	}

	if err := s.RespondPermission(protocol.PermissionResponse{ID: id, Behavior: protocol.PermissionAllow}); err != nil {
		t.Fatalf("RespondPermission: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("RequestPermission returned error: %v", r.err)
		}
		if r.resp.Behavior != protocol.PermissionAllow {
			t.Fatalf("expected allow, got %q", r.resp.Behavior)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RequestPermission never returned after respond")
	}

	if got := s.ListPermissions(""); len(got) != 0 {
		t.Fatalf("expected pending table drained after respond, got %v", got)
	}
}

// TestPermissionTimeout verifies that a request exceeding the gate timeout
// fails, and that a late respond afterward is rejected as NotFound.
func TestPermissionTimeout(t *testing.T) {
	old := gateTimeout
	gateTimeout = 30 * time.Millisecond
	defer func() { gateTimeout = old }()

	s := New(paths.Paths{}, config.ConfigFile{})
	insertBareAgent(s, "a-1", "demo")

	resp, err := s.RequestPermission(context.Background(), protocol.PermissionRequestPayload{AgentID: "a-1", ToolName: "Bash"})
	if err == nil {
		t.Fatalf("expected timeout error, got response %+v", resp)
	}

	if err := s.RespondPermission(protocol.PermissionResponse{ID: "whatever-late-id", Behavior: protocol.PermissionAllow}); err == nil {
		t.Fatal("expected a late/unknown respond to be rejected")
	}
}

// TestPermissionUnknownAgent verifies permission.request against a
// nonexistent agent id fails fast with NotFound rather than blocking.
func TestPermissionUnknownAgent(t *testing.T) {
	s := New(paths.Paths{}, config.ConfigFile{})
	_, err := s.RequestPermission(context.Background(), protocol.PermissionRequestPayload{AgentID: "ghost", ToolName: "Bash"})
	if err == nil {
		t.Fatal("expected NotFound for unknown agent")
	}
}

// TestCancelPermissionsForProject verifies project.remove's cleanup path:
// every pending request for the project is failed rather than left hanging.
func TestCancelPermissionsForProject(t *testing.T) {
	s := New(paths.Paths{}, config.ConfigFile{})
	insertBareAgent(s, "a-1", "demo")

	done := make(chan protocol.PermissionResponse, 1)
	go func() {
		resp, _ := s.RequestPermission(context.Background(), protocol.PermissionRequestPayload{AgentID: "a-1", ToolName: "Bash"})
		done <- resp
	}()

	deadline := time.After(2 * time.Second)
	for len(s.ListPermissions("")) == 0 {
		select {
		case <-deadline:
			t.Fatal("request never became pending")
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.CancelPermissionsForProject("demo")

	select {
	case resp := <-done:
		if resp.Behavior != protocol.PermissionDeny {
			t.Fatalf("expected deny on project removal, got %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request never resolved after CancelPermissionsForProject")
	}
}
