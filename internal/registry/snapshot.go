package registry

import (
	"sync/atomic"

	"gosuda.org/zcipc/internal/protocol"
)

type cachedSlot struct {
	generation uint64
	occupied   bool
	id         protocol.PortID
}

// Snapshot is a reader-local view of a registry. It is not safe for
// concurrent use; every port keeps its own.
type Snapshot struct {
	container *Container
	changes   uint64
	stale     bool // a torn slot was seen, rescan on next Update
	cache     []cachedSlot
}

// Snapshot returns a cursor that observes nothing until the first Update.
func (c *Container) Snapshot() *Snapshot {
	return &Snapshot{
		container: c,
		stale:     true,
		cache:     make([]cachedSlot, c.capacity),
	}
}

// Update refreshes the view and reports whether any identity was added or
// removed since the previous call. It never waits for writers: a slot that is
// mid-transition keeps its previous value and is re-read next time.
func (s *Snapshot) Update() bool {
	changes := atomic.LoadUint64(&s.container.header().changes)
	if changes == s.changes && !s.stale {
		return false
	}

	changed := false
	torn := false
	for i := range s.cache {
		sl := s.container.slot(uint32(i))
		g1 := atomic.LoadUint64(&sl.generation)
		if g1 == s.cache[i].generation {
			continue
		}
		if g1&1 == 1 {
			torn = true
			continue
		}

		occupied := atomic.LoadUint64(&sl.occupied) == 1
		id := protocol.PortID{
			Value: atomic.LoadUint64(&sl.value),
			Pid:   uint32(atomic.LoadUint64(&sl.pid)),
		}
		if g2 := atomic.LoadUint64(&sl.generation); g1 != g2 {
			torn = true
			continue
		}

		c := &s.cache[i]
		if c.occupied != occupied || c.id != id {
			changed = true
		}
		c.generation = g1
		c.occupied = occupied
		c.id = id
		if !occupied {
			c.id = protocol.PortID{}
		}
	}

	s.changes = changes
	s.stale = torn
	return changed
}

// ForEach calls fn for every identity present as of the last Update, in
// slot order.
func (s *Snapshot) ForEach(fn func(index uint32, id protocol.PortID)) {
	for i := range s.cache {
		if s.cache[i].occupied {
			fn(uint32(i), s.cache[i].id)
		}
	}
}

// Len returns the number of identities present as of the last Update.
func (s *Snapshot) Len() int {
	n := 0
	for i := range s.cache {
		if s.cache[i].occupied {
			n++
		}
	}
	return n
}
