package registry

import (
	"hash/fnv"
	"sync"
)

const shardCount = 32

// Coordinator enforces the one-active-job-per-user rule and owns every
// CancelSignal. State is sharded by user ID so unrelated users never
// contend on the same lock; all operations for one user are linearized
// by that user's shard.
type Coordinator struct {
	shards [shardCount]coordinatorShard
}

type coordinatorShard struct {
	mu    sync.Mutex
	slots map[string]*jobSlot // userID -> active job
}

type jobSlot struct {
	requestID string
	cancel    *CancelSignal
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator() *Coordinator {
	c := &Coordinator{}
	for i := range c.shards {
		c.shards[i].slots = make(map[string]*jobSlot)
	}
	return c
}

func (c *Coordinator) shard(userID string) *coordinatorShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &c.shards[h.Sum32()%shardCount]
}

// Register makes requestID the active job for userID and returns its fresh
// CancelSignal. If another job was active for the user, that job's signal
// is set before the new job becomes visible, so a superseded background
// task can never outlive its replacement unobserved.
func (c *Coordinator) Register(userID, requestID string) *CancelSignal {
	s := c.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.slots[userID]; ok {
		old.cancel.Set()
	}
	signal := NewCancelSignal()
	s.slots[userID] = &jobSlot{requestID: requestID, cancel: signal}
	return signal
}

// Cancel sets the CancelSignal for requestID only while it is still the
// active job for userID. Returns whether the cancellation took effect;
// cancelling a stale or unknown requestID is a no-op returning false,
// since the job may simply have finished already.
func (c *Coordinator) Cancel(userID, requestID string) bool {
	s := c.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[userID]
	if !ok || slot.requestID != requestID {
		return false
	}
	slot.cancel.Set()
	return true
}

// Complete clears the active slot for userID only if requestID still
// matches. A finished old job calling Complete after being superseded
// must not clear the newer job's slot. Idempotent.
func (c *Coordinator) Complete(userID, requestID string) {
	s := c.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.slots[userID]; ok && slot.requestID == requestID {
		delete(s.slots, userID)
	}
}

// ActiveRequestID returns the in-flight request ID for userID, or "" when
// the user has no active job.
func (c *Coordinator) ActiveRequestID(userID string) string {
	s := c.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.slots[userID]; ok {
		return slot.requestID
	}
	return ""
}
