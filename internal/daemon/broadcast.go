// Event broadcaster (§4.G): a single fan-out channel with per-subscriber
// project filters. A slow subscriber drops events rather than blocking the
// publisher or disconnecting — the channel send is always non-blocking from
// the broadcaster's perspective, with the drop happening in the subscriber's
// own bounded mailbox.
package daemon

import (
	"sync"
	"sync/atomic"

	"github.com/karan-zipline/murmur/internal/protocol"
)

const subscriberBuffer = 1024

// subscriber is one attached connection's event mailbox.
type subscriber struct {
	ch       chan protocol.Event
	projects map[string]bool // empty set = all projects
}

// Broadcaster fans typed events out to every attached subscriber.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[uint64]*subscriber
	nextSubID   atomic.Uint64
	nextEventID *atomic.Uint64
}

// NewBroadcaster builds a Broadcaster sharing the daemon's monotonic event
// id counter.
func NewBroadcaster(nextEventID *atomic.Uint64) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]*subscriber),
		nextEventID: nextEventID,
	}
}

// Subscribe registers a new mailbox filtered by projects (empty = all) and
// returns its id (for Unsubscribe) and receive channel.
func (b *Broadcaster) Subscribe(projects []string) (uint64, <-chan protocol.Event) {
	set := make(map[string]bool, len(projects))
	for _, p := range projects {
		if p != "" {
			set[p] = true
		}
	}
	sub := &subscriber{ch: make(chan protocol.Event, subscriberBuffer), projects: set}
	id := b.nextSubID.Add(1)
	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()
	return id, sub.ch
}

// Unsubscribe removes and closes a subscriber's mailbox.
func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// eventProject extracts payload.project for filtering, matching whatever
// shape the caller passed to Publish.
func eventProject(payload any) string {
	switch p := payload.(type) {
	case interface{ GetProject() string }:
		return p.GetProject()
	case protocol.AgentChatEvent:
		return p.Project
	case protocol.AgentCreatedEvent:
		return p.Agent.Project
	case protocol.AgentDeletedEvent:
		return p.Project
	case protocol.OrchestrationTickRequestedEvent:
		return p.Project
	default:
		return ""
	}
}

// Publish assigns a monotonic evt-<n> id and fans typ/payload out to every
// subscriber whose filter matches. Events with no project (e.g. heartbeat)
// are only delivered to subscribers with an empty (all-projects) filter,
// per the teacher's event-filter idiom generalized to this protocol.
func (b *Broadcaster) Publish(typ string, payload any) {
	id := b.nextEventID.Add(1)
	evt := protocol.Event{Type: typ, ID: "evt-" + itoa(id), Payload: payload}
	project := eventProject(payload)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		if len(sub.projects) > 0 {
			if project == "" || !sub.projects[project] {
				continue
			}
		}
		select {
		case sub.ch <- evt:
		default:
			// Lagged receiver: drop silently, never disconnect (§4.G).
		}
	}
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
