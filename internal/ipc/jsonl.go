// Package ipc implements the framed JSON-lines transport used over the
// daemon's Unix socket: one UTF-8 JSON object per newline-terminated line,
// no length prefix. ReadFramesLogging tolerates malformed lines by skipping
// and logging them, matching the teacher's claude/reader.go ReadRecords
// idiom; FrameReader.ReadInto returns a decode error instead.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

const maxLineSize = 10 * 1024 * 1024 // 10 MB, matches the teacher's claude reader.

// FrameReader decodes newline-delimited JSON objects from an io.Reader.
type FrameReader struct {
	scanner *bufio.Scanner
}

// NewFrameReader wraps r with a scanner sized for large agent payloads.
func NewFrameReader(r io.Reader) *FrameReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &FrameReader{scanner: s}
}

// ReadInto reads the next line and unmarshals it into v. Returns io.EOF
// when the stream ends. Blank lines are skipped.
func (f *FrameReader) ReadInto(v any) error {
	for f.scanner.Scan() {
		line := f.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, v); err != nil {
			return fmt.Errorf("decoding frame: %w", err)
		}
		return nil
	}
	if err := f.scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// ReadRaw reads and returns the next non-blank raw line, or io.EOF.
func (f *FrameReader) ReadRaw() ([]byte, error) {
	for f.scanner.Scan() {
		line := f.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := f.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// FrameWriter writes newline-delimited JSON objects, flushing after each
// one so readers observe frames promptly.
type FrameWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: bufio.NewWriter(w)}
}

// Write marshals v, appends a newline, writes and flushes.
func (f *FrameWriter) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.w.Write(data); err != nil {
		return err
	}
	if err := f.w.WriteByte('\n'); err != nil {
		return err
	}
	return f.w.Flush()
}

// ReadFramesLogging reads lines from r, decodes each into a fresh T via fn,
// and logs+skips lines that fail to decode, matching the teacher's
// tolerant-JSONL-reading idiom. Returns nil when r is exhausted, or the
// read error if reading r fails.
func ReadFramesLogging[T any](r io.Reader, onFrame func(T)) error {
	fr := NewFrameReader(r)
	for {
		raw, err := fr.ReadRaw()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		var v T
		if jsonErr := json.Unmarshal(raw, &v); jsonErr != nil {
			slog.Warn("skipping malformed JSONL frame", "error", jsonErr)
			continue
		}
		onFrame(v)
	}
}
