package cdp

import (
	"log"
	"sync"
	"time"
)

// Direction names one side of the bidirectional relay
type Direction int

const (
	ClientToTarget Direction = iota
	TargetToClient
)

func (d Direction) String() string {
	if d == ClientToTarget {
		return "client→target"
	}
	return "target→client"
}

// Pending records one in-flight request awaiting its response
type Pending struct {
	ClientID  int64
	TargetID  int64
	Method    string
	CreatedAt time.Time
	// Meta carries rewrite context (original breakpoint coordinates,
	// evaluation context) needed to reinterpret the response.
	Meta interface{}
}

// Handler is the continuation invoked with the matched response
type Handler func(p *Pending, m *Message)

type pendingKey struct {
	dir Direction
	id  int64
}

type pendingEntry struct {
	p *Pending
	h Handler
}

// Correlator tracks in-flight requests per direction and matches responses
// back to their continuations. The two directions use disjoint numbering
// spaces for internally assigned ids (odd vs even) so rewriting one side
// never collides with the other's counters.
type Correlator struct {
	mu      sync.Mutex
	pending map[pendingKey]pendingEntry
	nextOdd int64
	nextEvn int64
}

func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[pendingKey]pendingEntry),
		nextOdd: 1,
		nextEvn: 2,
	}
}

// NextID allocates a locally unique, monotonic id for a request originated
// by this proxy on the given direction.
func (c *Correlator) NextID(dir Direction) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dir == ClientToTarget {
		id := c.nextOdd
		c.nextOdd += 2
		return id
	}
	id := c.nextEvn
	c.nextEvn += 2
	return id
}

// Track stores a pending record for a forwarded request. At most one record
// may exist per id per direction; a duplicate is rejected.
func (c *Correlator) Track(dir Direction, p *Pending, h Handler) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pendingKey{dir: dir, id: p.TargetID}
	if _, exists := c.pending[key]; exists {
		return false
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	c.pending[key] = pendingEntry{p: p, h: h}
	return true
}

// Resolve matches a response against a pending record and invokes the
// continuation exactly once. Unmatched responses are logged and dropped.
func (c *Correlator) Resolve(dir Direction, m *Message) bool {
	if m.ID == nil {
		return false
	}

	c.mu.Lock()
	key := pendingKey{dir: dir, id: *m.ID}
	entry, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok {
		log.Printf("Dropping unmatched response id=%d (%s)", *m.ID, dir)
		return false
	}

	if entry.h != nil {
		entry.h(entry.p, m)
	}
	return true
}

// PendingCount reports the number of in-flight records across both directions
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Clear drops every pending record. Called on session teardown so stale
// continuations never fire after a socket is replaced.
func (c *Correlator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[pendingKey]pendingEntry)
}
