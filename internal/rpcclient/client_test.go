package rpcclient

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/karan-zipline/murmur/internal/ipc"
	"github.com/karan-zipline/murmur/internal/protocol"
)

type pingPayload struct {
	Pid int `json:"pid"`
}

// serveOnce accepts exactly one connection, reads one request, writes the
// Response that respond builds from it, then closes.
func serveOnce(t *testing.T, sock string, respond func(req protocol.Request) protocol.Response) {
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

func TestCallSuccessRoundTrip(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "murmur.sock")
	serveOnce(t, sock, func(req protocol.Request) protocol.Response {
		return protocol.Response{Type: req.Type, ID: req.ID, Success: true, Payload: pingPayload{Pid: 999}}
	})

	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	var out pingPayload
	if err := c.Call(protocol.MsgPing, nil, time.Second, &out); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out.Pid != 999 {
		t.Fatalf("unexpected payload: %+v", out)
	}
}

func TestCallSurfacesDaemonError(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "murmur.sock")
	serveOnce(t, sock, func(req protocol.Request) protocol.Response {
		return protocol.Response{Type: req.Type, ID: req.ID, Success: false, Error: "project not found: demo"}
	})

	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	err = c.Call(protocol.MsgProjectStatus, nil, time.Second, nil)
	if err == nil || err.Error() != "project not found: demo" {
		t.Fatalf("expected daemon error surfaced verbatim, got %v", err)
	}
}

// TestCallIgnoresResponsesForOtherIDs verifies Call waits for the Response
// whose id matches its own Request rather than returning on the first frame
// it happens to read.
func TestCallIgnoresResponsesForOtherIDs(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "murmur.sock")
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
		// A stray response for an unrelated request id, then the real one.
		_ = w.Write(protocol.Response{Type: req.Type, ID: "not-the-right-id", Success: true})
		_ = w.Write(protocol.Response{Type: req.Type, ID: req.ID, Success: true, Payload: pingPayload{Pid: 1}})
	}()

	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	var out pingPayload
	if err := c.Call(protocol.MsgPing, nil, time.Second, &out); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out.Pid != 1 {
		t.Fatalf("unexpected payload: %+v", out)
	}
}

// TestCallReportsEOFWhenDaemonClosesEarly verifies the dedicated error
// message for a connection closed before any matching Response arrives.
func TestCallReportsEOFWhenDaemonClosesEarly(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "murmur.sock")
	l, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		conn.Close()
		l.Close()
	}()

	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	err = c.Call(protocol.MsgPing, nil, time.Second, nil)
	if err == nil || err.Error() != "daemon closed connection before responding" {
		t.Fatalf("expected EOF-before-responding error, got %v", err)
	}
}

func TestDialFailsWhenNoListener(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "nobody-here.sock")
	if _, err := Dial(sock); err == nil {
		t.Fatal("expected dial error against a nonexistent socket")
	}
}
