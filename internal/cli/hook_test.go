package cli

import (
	"bytes"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/karan-zipline/murmur/internal/ipc"
	"github.com/karan-zipline/murmur/internal/protocol"
	"github.com/karan-zipline/murmur/internal/rpcclient"
)

// serveOneRequest accepts a single connection, decodes one Request, hands it
// to respond, and writes back the Response it returns.
func serveOneRequest(t *testing.T, sock string, respond func(protocol.Request) protocol.Response) {
	t.Helper()
	l, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer l.Close()
		r := ipc.NewFrameReader(conn)
		w := ipc.NewFrameWriter(conn)
		var req protocol.Request
		if err := r.ReadInto(&req); err != nil {
			return
		}
		_ = w.Write(respond(req))
	}()
}

func dialTestClient(t *testing.T, sock string) *rpcclient.Client {
	t.Helper()
	c, err := rpcclient.Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRunPermissionHookAllowEncodesDecision(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "murmur.sock")
	serveOneRequest(t, sock, func(req protocol.Request) protocol.Response {
		if req.Type != protocol.MsgPermissionRequest {
			t.Errorf("unexpected request type: %s", req.Type)
		}
		return protocol.Response{
			Type: req.Type, ID: req.ID, Success: true,
			Payload: protocol.PermissionResponse{Behavior: protocol.PermissionAllow},
		}
	})
	c := dialTestClient(t, sock)

	stdin := strings.NewReader(`{"tool_name":"Bash","tool_input":{"command":"ls"},"tool_use_id":"tu-1"}`)
	var stdout bytes.Buffer
	if err := runPermissionHook(c, "a-1", &stdout, stdin); err != nil {
		t.Fatalf("runPermissionHook: %v", err)
	}
	if got := stdout.String(); !strings.Contains(got, `"permissionDecision":"allow"`) {
		t.Fatalf("unexpected stdout: %s", got)
	}
}

func TestRunPermissionHookDenyIncludesReason(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "murmur.sock")
	serveOneRequest(t, sock, func(req protocol.Request) protocol.Response {
		return protocol.Response{
			Type: req.Type, ID: req.ID, Success: true,
			Payload: protocol.PermissionResponse{Behavior: protocol.PermissionDeny, Message: "no network access"},
		}
	})
	c := dialTestClient(t, sock)

	stdin := strings.NewReader(`{"tool_name":"Bash"}`)
	var stdout bytes.Buffer
	if err := runPermissionHook(c, "a-1", &stdout, stdin); err != nil {
		t.Fatalf("runPermissionHook: %v", err)
	}
	got := stdout.String()
	if !strings.Contains(got, `"permissionDecision":"deny"`) || !strings.Contains(got, "no network access") {
		t.Fatalf("unexpected stdout: %s", got)
	}
}

func TestRunPermissionHookEmptyStdinOmitsToolFields(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "murmur.sock")
	serveOneRequest(t, sock, func(req protocol.Request) protocol.Response {
		var p protocol.PermissionRequestPayload
		if err := json.Unmarshal(req.Payload, &p); err == nil && p.ToolName != "" {
			t.Errorf("expected empty tool name for blank stdin, got %q", p.ToolName)
		}
		return protocol.Response{
			Type: req.Type, ID: req.ID, Success: true,
			Payload: protocol.PermissionResponse{Behavior: protocol.PermissionAllow},
		}
	})
	c := dialTestClient(t, sock)

	var stdout bytes.Buffer
	if err := runPermissionHook(c, "a-1", &stdout, strings.NewReader("")); err != nil {
		t.Fatalf("runPermissionHook: %v", err)
	}
}

func TestRunPermissionHookPropagatesCallError(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "murmur.sock")
	serveOneRequest(t, sock, func(req protocol.Request) protocol.Response {
		return protocol.Response{Type: req.Type, ID: req.ID, Success: false, Error: "agent not found: a-9"}
	})
	c := dialTestClient(t, sock)

	var stdout bytes.Buffer
	err := runPermissionHook(c, "a-9", &stdout, strings.NewReader(`{"tool_name":"Bash"}`))
	if err == nil || err.Error() != "agent not found: a-9" {
		t.Fatalf("expected daemon error surfaced, got %v", err)
	}
}

func TestRunPermissionHookMalformedStdinErrors(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "murmur.sock")
	// No responder needed: malformed stdin must fail before any Call.
	l, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	c := dialTestClient(t, sock)

	var stdout bytes.Buffer
	err = runPermissionHook(c, "a-1", &stdout, strings.NewReader("not json"))
	if err == nil {
		t.Fatal("expected an error for malformed hook stdin")
	}
}

func TestRunPermissionHookRoundTripsPromptly(t *testing.T) {
	// Exercises the realistic path end to end with a short-lived client;
	// the 5-minute hookTimeout itself is not shrunk here since the fake
	// server always responds immediately.
	start := time.Now()
	sock := filepath.Join(t.TempDir(), "murmur.sock")
	serveOneRequest(t, sock, func(req protocol.Request) protocol.Response {
		return protocol.Response{
			Type: req.Type, ID: req.ID, Success: true,
			Payload: protocol.PermissionResponse{Behavior: protocol.PermissionAllow},
		}
	})
	c := dialTestClient(t, sock)
	var stdout bytes.Buffer
	if err := runPermissionHook(c, "a-1", &stdout, strings.NewReader(`{"tool_name":"Bash"}`)); err != nil {
		t.Fatalf("runPermissionHook: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("expected an immediate round trip, not anywhere near the hook timeout")
	}
}
