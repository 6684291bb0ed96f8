// Socket server (§4.F/§6.1): accepts connections on the daemon's Unix
// socket, dispatches one Request per line, and streams Events to attached
// connections. Grounded on the accept-loop-plus-per-connection-goroutine
// shape used throughout the retrieved pack's daemon implementations.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/karan-zipline/murmur/internal/ipc"
	"github.com/karan-zipline/murmur/internal/protocol"
)

const shutdownJoinTimeout = 3 * time.Second

// Run binds the Unix socket, serves connections until RequestShutdown fires
// (a failed accept is logged and retried after 50 ms), then tears the
// daemon down.
func (s *SharedState) Run(ctx context.Context) error {
	os.Remove(s.Paths.SocketPath)
	l, err := net.Listen("unix", s.Paths.SocketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.Paths.SocketPath, 0o600); err != nil {
		l.Close()
		return err
	}
	slog.Info("listening", "socket", s.Paths.SocketPath)

	s.WG.Add(1)
	go s.heartbeatLoop(ctx)

	acceptErr := make(chan error, 1)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					acceptErr <- err
					return
				}
				slog.Warn("accept failed, retrying", "err", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			s.WG.Add(1)
			go func() {
				defer s.WG.Done()
				s.handleConn(ctx, conn)
			}()
		}
	}()

	select {
	case <-s.ShutdownCh:
	case err := <-acceptErr:
		if !errors.Is(err, net.ErrClosed) {
			slog.Error("accept failed", "err", err)
		}
	}

	l.Close()
	s.teardown()
	os.Remove(s.Paths.SocketPath)
	return nil
}

// RequestShutdown implements the shutdown RPC: it closes ShutdownCh, which
// ends Run's serving; Run then calls teardown, which cancels every
// orchestrator and aborts agents still running.
func (s *SharedState) RequestShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.ShutdownCh)
	})
}

// teardown cancels the root context (stopping every orchestrator loop),
// force-aborts agents still running, and waits up to shutdownJoinTimeout
// for goroutines to exit cleanly before returning regardless.
func (s *SharedState) teardown() {
	s.RootCancel()

	for _, rec := range s.Agents.List("") {
		if !rec.Terminal() {
			_ = s.Abort(rec.ID, true)
		}
	}

	done := make(chan struct{})
	go func() {
		s.WG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownJoinTimeout):
		slog.Warn("shutdown: goroutines still running past join timeout, proceeding anyway")
	}
}

func (s *SharedState) heartbeatLoop(ctx context.Context) {
	defer s.WG.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ShutdownCh:
			return
		case <-ticker.C:
			s.Broadcaster.Publish(protocol.EvtHeartbeat, protocol.HeartbeatEvent{NowMs: nowMs()})
		}
	}
}

// handleConn serves one client connection: every line is a Request,
// dispatched and answered with exactly one Response, except attach which
// switches the connection into event-streaming mode until the client
// disconnects or detaches.
func (s *SharedState) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connID := s.NextConnID.Add(1)
	reader := ipc.NewFrameReader(conn)
	writer := ipc.NewFrameWriter(conn)

	for {
		var req protocol.Request
		if err := reader.ReadInto(&req); err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("connection read error", "conn", connID, "err", err)
			}
			return
		}

		if req.Type == protocol.MsgAttach {
			var p protocol.AttachRequest
			_ = json.Unmarshal(req.Payload, &p)
			if err := writer.Write(protocol.OK(req.Type, req.ID, nil)); err != nil {
				return
			}
			s.streamEvents(ctx, reader, writer, p.Projects)
			return
		}

		resp := s.Dispatch(ctx, req)
		if err := writer.Write(resp); err != nil {
			return
		}
	}
}

// streamEvents subscribes conn to the broadcaster and forwards every
// matching Event until the connection closes (reader hits EOF/error) or the
// daemon shuts down. A background goroutine keeps draining incoming lines
// so a detach request (or the client simply closing its write side) is
// observed promptly.
func (s *SharedState) streamEvents(ctx context.Context, reader *ipc.FrameReader, writer *ipc.FrameWriter, projects []string) {
	subID, events := s.Broadcaster.Subscribe(projects)
	defer s.Broadcaster.Unsubscribe(subID)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var req protocol.Request
			if err := reader.ReadInto(&req); err != nil {
				return
			}
			if req.Type == protocol.MsgDetach {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ShutdownCh:
			return
		case <-closed:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := writer.Write(evt); err != nil {
				return
			}
		}
	}
}
