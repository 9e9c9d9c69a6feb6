package core

import "sync"

// Tag is a Lamport timestamp scoped to the replica that produced it, so
// that last-writer-wins comparisons remain deterministic across
// replicas: the Counter orders causally, and the Replica breaks ties
// between concurrent writes.
type Tag struct {
	Replica ReplicaID
	Counter uint64
}

// After reports whether t happened after other under last-writer-wins
// semantics: higher counter wins, and on a tie the lexicographically larger
// replica id wins. This mirrors lww.go's merge tie-breaker.
func (t Tag) After(other Tag) bool {
	if t.Counter != other.Counter {
		return t.Counter > other.Counter
	}
	return t.Replica > other.Replica
}

// Clock is a Lamport logical clock scoped to one replica, plus the vector of
// highest counters observed from every other replica. The vector is what
// lets the sync engine compute a minimal delta (see internal/crdt/wire.go)
// instead of replaying the whole document, using a per-origin watermark.
type Clock struct {
	mu      sync.Mutex
	replica ReplicaID
	counter uint64
	vector  map[ReplicaID]uint64
}

// NewClock creates a clock for a freshly allocated replica identity.
func NewClock(replica ReplicaID) *Clock {
	return &Clock{
		replica: replica,
		vector:  make(map[ReplicaID]uint64),
	}
}

// Replica returns the identity this clock ticks on behalf of.
func (c *Clock) Replica() ReplicaID {
	return c.replica
}

// Tick advances the local counter and returns the Tag to attach to the
// mutation that caused it. Must be called before every local write.
func (c *Clock) Tick() Tag {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	c.vector[c.replica] = c.counter
	return Tag{Replica: c.replica, Counter: c.counter}
}

// Observe folds a remote tag into the vector, recording the highest counter
// seen from that origin and, if the remote tag is for our own local counter,
// bumping it forward so that subsequent local ticks remain causally after
// anything we've merged.
func (c *Clock) Observe(tag Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tag.Counter > c.vector[tag.Replica] {
		c.vector[tag.Replica] = tag.Counter
	}
	if tag.Replica == c.replica && tag.Counter > c.counter {
		c.counter = tag.Counter
	}
}

// StateVector returns a snapshot of the highest counter observed from each
// replica, including our own. This is the payload CreateSyncMessage ships to
// a peer so it can compute the minimal diff.
func (c *Clock) StateVector() map[ReplicaID]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[ReplicaID]uint64, len(c.vector)+1)
	for r, n := range c.vector {
		out[r] = n
	}
	out[c.replica] = c.counter
	return out
}
