package engine

import "sync"

// changes tracks entities mutated on this side so a refresh does not
// replace them with a listing taken before the backend saw the change.
type changes struct {
	mu    sync.Mutex
	seq   uint64
	marks map[string]change
}

type change struct {
	seq      uint64
	inflight int
}

func newChanges() *changes {
	return &changes{marks: make(map[string]change)}
}

func nodeKey(id string) string     { return "node/" + id }
func workloadKey(id string) string { return "workload/" + id }

// mark returns the current sequence. Changes touched after it are held.
func (c *changes) mark() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// touch records a local change of key. pushed reports that a write to
// the backend was queued and must be settled with done.
func (c *changes) touch(key string, pushed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	ch := c.marks[key]
	ch.seq = c.seq
	if pushed {
		ch.inflight++
	}
	c.marks[key] = ch
}

// done settles one queued push of key, delivered or not.
func (c *changes) done(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.marks[key]
	if !ok {
		return
	}
	if ch.inflight > 0 {
		ch.inflight--
	}
	c.marks[key] = ch
}

// held reports whether key changed locally after since or still has a
// push in flight.
func (c *changes) held(key string, since uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.marks[key]
	return ok && (ch.inflight > 0 || ch.seq > since)
}

// settle forgets every mark that no refresh after since needs.
func (c *changes) settle(since uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, ch := range c.marks {
		if ch.inflight == 0 && ch.seq <= since {
			delete(c.marks, k)
		}
	}
}
