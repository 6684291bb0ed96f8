// Per-agent session log: every stdin/stdout frame is appended as JSONL to a
// per-agent file, grounded in the teacher's runner.go openLog/writeLogTrailer
// discipline. Once an agent's runtime is torn down the log is compressed
// with zstd (teacher dependency, repurposed here from HTTP response
// compression to log-file compression, since this transport has no HTTP
// response path of its own) so long-lived daemons don't accumulate
// unbounded plaintext history.
package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/maruel/ksid"
)

// sessionLog appends one JSON line per call, matching ipc.FrameWriter's
// marshal-then-newline-then-flush shape but writing to a plain file instead
// of the socket.
type sessionLog struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// openSessionLog creates <dir>/<agentID>-<ksid>.jsonl. The ksid is new on
// every call, so each open starts a new file.
func openSessionLog(dir, agentID string) (*sessionLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session log dir: %w", err)
	}
	name := agentID + "-" + ksid.NewID().String() + ".jsonl"
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	return &sessionLog{f: f, w: bufio.NewWriter(f), path: path}, nil
}

type logEntry struct {
	Direction string `json:"direction"` // "in" or "out"
	TsMs      int64  `json:"ts_ms"`
	Raw       any    `json:"raw"`
}

func (l *sessionLog) append(direction string, raw any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := json.Marshal(logEntry{Direction: direction, TsMs: time.Now().UnixMilli(), Raw: raw})
	if err != nil {
		return
	}
	l.w.Write(data)
	l.w.WriteByte('\n')
	l.w.Flush()
}

// closeAndCompress flushes, closes, and rewrites the plaintext log as a
// zstd-compressed sibling file (<name>.jsonl.zst), removing the original.
// Best-effort: failures are swallowed since this is bookkeeping, not a
// correctness requirement.
func (l *sessionLog) closeAndCompress() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	l.f.Close()

	src, err := os.Open(l.path)
	if err != nil {
		return
	}
	defer src.Close()
	dst, err := os.Create(l.path + ".zst")
	if err != nil {
		return
	}
	defer dst.Close()
	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return
	}
	buf := make([]byte, 64*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := enc.Write(buf[:n]); werr != nil {
				enc.Close()
				return
			}
		}
		if rerr != nil {
			break
		}
	}
	if err := enc.Close(); err != nil {
		return
	}
	os.Remove(l.path)
}
