package verifier

import (
	"container/list"
	"sync"
)

// DefaultReplayCapacity bounds the memory replay guard when the caller
// passes a non-positive capacity.
const DefaultReplayCapacity = 65536

// ReplayGuard tracks observed nonces. Observe returns false when the
// nonce was already seen, marking the signature as a replay.
// Implementations must be safe for concurrent use.
type ReplayGuard interface {
	Observe(nonce string) bool
}

// MemoryReplayGuard is an in-process ReplayGuard holding at most capacity
// nonces; inserting past capacity forgets the oldest. Forgotten nonces can
// be replayed, so the capacity must exceed the traffic volume inside the
// policy's timestamp window.
type MemoryReplayGuard struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]*list.Element
	order    *list.List // front is oldest
}

// NewMemoryReplayGuard returns a guard remembering at most capacity
// nonces.
func NewMemoryReplayGuard(capacity int) *MemoryReplayGuard {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}

	return &MemoryReplayGuard{
		capacity: capacity,
		seen:     make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Observe records a nonce, returning false when it was already present.
func (g *MemoryReplayGuard) Observe(nonce string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, dup := g.seen[nonce]; dup {
		return false
	}

	g.seen[nonce] = g.order.PushBack(nonce)

	if g.order.Len() > g.capacity {
		oldest := g.order.Front()
		g.order.Remove(oldest)
		delete(g.seen, oldest.Value.(string))
	}

	return true
}

// Len returns the number of remembered nonces.
func (g *MemoryReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.order.Len()
}
