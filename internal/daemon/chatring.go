package daemon

import "github.com/karan-zipline/murmur/internal/protocol"

const defaultChatRingSize = 1000

// chatRing is a fixed-capacity FIFO of chat messages, per §3's "bounded ring
// (default 1000 entries)".
type chatRing struct {
	buf   []protocol.ChatMessage
	start int
	size  int
}

func newChatRing(cap int) *chatRing {
	if cap <= 0 {
		cap = defaultChatRingSize
	}
	return &chatRing{buf: make([]protocol.ChatMessage, cap)}
}

func (r *chatRing) push(m protocol.ChatMessage) {
	idx := (r.start + r.size) % len(r.buf)
	r.buf[idx] = m
	if r.size < len(r.buf) {
		r.size++
	} else {
		r.start = (r.start + 1) % len(r.buf)
	}
}

// snapshot returns up to limit of the most recent messages, oldest first.
// limit <= 0 means "all".
func (r *chatRing) snapshot(limit int) []protocol.ChatMessage {
	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]protocol.ChatMessage, n)
	off := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+off+i)%len(r.buf)]
	}
	return out
}
