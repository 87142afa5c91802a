package connection

import (
	"hash/fnv"
	"log"
	"sync"

	"github.com/textpilot/textpilot-daemon/internal/stream"
)

// Channel is the transport handle for one connected client. Implementations
// must tolerate concurrent Send calls.
type Channel interface {
	Send(msg stream.Message) error
	Close() error
}

const shardCount = 32

// Registry tracks the single live channel per user and delivers stream
// messages to it. Delivery is best-effort and at-most-once: a send to an
// absent or broken channel is logged and dropped, never buffered and never
// surfaced to the caller. Losing a channel does not cancel the user's
// in-flight job; the job runs to completion unseen and its frames are
// dropped here.
type Registry struct {
	shards [shardCount]registryShard
	logger *log.Logger
}

type registryShard struct {
	mu    sync.Mutex
	conns map[string]Channel
}

// NewRegistry returns an empty registry. logger may be nil.
func NewRegistry(logger *log.Logger) *Registry {
	r := &Registry{logger: logger}
	for i := range r.shards {
		r.shards[i].conns = make(map[string]Channel)
	}
	return r
}

func (r *Registry) shard(userID string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &r.shards[h.Sum32()%shardCount]
}

// Connect stores ch as the live channel for userID. A previously stored
// channel is closed first; close failures are logged, not propagated.
func (r *Registry) Connect(userID string, ch Channel) {
	s := r.shard(userID)
	s.mu.Lock()
	prev := s.conns[userID]
	s.conns[userID] = ch
	s.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			r.logf("connection: close superseded channel user=%s: %v", userID, err)
		}
	}
}

// Disconnect removes the registration only when ch is still the stored
// channel, so a stale disconnect racing a reconnect cannot evict the
// newer channel. No-op for unknown users.
func (r *Registry) Disconnect(userID string, ch Channel) {
	s := r.shard(userID)
	s.mu.Lock()
	if s.conns[userID] == ch {
		delete(s.conns, userID)
	}
	s.mu.Unlock()
}

// HasConnection reports whether a channel is registered for userID. It does
// not probe liveness beyond presence in the map.
func (r *Registry) HasConnection(userID string) bool {
	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[userID]
	return ok
}

// Send delivers msg to the user's live channel. A missing channel or a
// transport write error is logged and swallowed.
func (r *Registry) Send(userID string, msg stream.Message) {
	s := r.shard(userID)
	s.mu.Lock()
	ch := s.conns[userID]
	s.mu.Unlock()

	if ch == nil {
		r.logf("connection: drop %s frame user=%s request=%s: no channel", msg.Type, userID, msg.RequestID)
		return
	}
	if err := ch.Send(msg); err != nil {
		r.logf("connection: drop %s frame user=%s request=%s: %v", msg.Type, userID, msg.RequestID, err)
	}
}

func (r *Registry) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
