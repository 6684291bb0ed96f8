// Package rpcclient is the minimal client side of the framed JSON-lines
// socket protocol (§6.2): dial, send one Request, read frames until the
// matching Response arrives. It backs the `hook` subcommand's proxy calls
// from an agent subprocess back into the daemon; it is deliberately thin
// since CLI behavior beyond the entrypoint is out of scope (§1).
package rpcclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/karan-zipline/murmur/internal/ipc"
	"github.com/karan-zipline/murmur/internal/protocol"
)

const dialTimeout = 1 * time.Second

// Client is a single short-lived connection to the daemon socket, used for
// one or more request/response round-trips.
type Client struct {
	conn   net.Conn
	reader *ipc.FrameReader
	writer *ipc.FrameWriter
}

// Dial connects to the daemon's Unix socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial murmur socket: %w", err)
	}
	return &Client{
		conn:   conn,
		reader: ipc.NewFrameReader(conn),
		writer: ipc.NewFrameWriter(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Call sends a Request of the given type with payload and blocks until the
// Response carrying the same id arrives (other Responses/Events on the
// connection, if any, are discarded — a short-lived client never attaches).
// timeout bounds the whole round-trip; long RPCs (permission, question) use
// the 5-minute budget from §5.
func (c *Client) Call(reqType string, payload any, timeout time.Duration, out any) error {
	id := uuid.NewString()
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req := protocol.Request{Type: reqType, ID: id, Payload: data}
	c.conn.SetDeadline(time.Now().Add(timeout))
	if err := c.writer.Write(req); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	for {
		var resp protocol.Response
		if err := c.reader.ReadInto(&resp); err != nil {
			if err == io.EOF {
				return fmt.Errorf("daemon closed connection before responding")
			}
			return fmt.Errorf("read response: %w", err)
		}
		if resp.ID != id {
			continue
		}
		if !resp.Success {
			return fmt.Errorf("%s", resp.Error)
		}
		if out == nil {
			return nil
		}
		raw, err := json.Marshal(resp.Payload)
		if err != nil {
			return fmt.Errorf("remarshal response payload: %w", err)
		}
		return json.Unmarshal(raw, out)
	}
}
