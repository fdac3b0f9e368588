// Package registry implements the lock-free port registry: a fixed-capacity
// set of port identities in shared memory that processes join and leave
// without locks, plus reader snapshots that detect membership changes.
package registry

import (
	"errors"
	"sync/atomic"
	"unsafe"

	"gosuda.org/zcipc/internal/protocol"
)

var (
	ErrInvalidCapacity = errors.New("zcipc: registry capacity must be in [1, 2^32-2]")
	ErrNotInitialized  = errors.New("zcipc: registry not initialized")
)

// Registry Memory Layout:
//
// <<<< base
// HEADER (64 bytes)          // capacity, change counter, active count, free list head
// NEXT   (capacity x uint32) // free list links, rounded up to 8 bytes
// SLOTS  (capacity x 32)     // generation, occupied flag, identity
// <<<< end

type header struct {
	capacity uint64
	changes  uint64 // bumped after every slot transition
	active   uint64
	freeHead uint64 // tag<<32 | index+1, 0 when empty
	_        [4]uint64
}

// slot holds one identity. An odd generation marks a transition in progress.
type slot struct {
	generation uint64
	occupied   uint64
	value      uint64
	pid        uint64
}

const headerSize = unsafe.Sizeof(header{})

// MemorySize returns the bytes a container with capacity slots needs.
func MemorySize(capacity uint64) uintptr {
	return headerSize + nextSize(capacity) + unsafe.Sizeof(slot{})*uintptr(capacity)
}

func nextSize(capacity uint64) uintptr {
	return ((uintptr(capacity)*4 + 7) / 8) * 8
}

// Container is a handle onto a registry laid out in mapped memory. Handles of
// different processes onto the same memory operate on the same set.
type Container struct {
	base     uintptr
	capacity uint64
	next     uintptr
	slots    uintptr
}

// Init lays out an empty registry at base and returns a handle to it.
// The caller must own the memory exclusively until Init returns.
func Init(base uintptr, capacity uint64) (*Container, error) {
	if capacity == 0 || capacity >= 1<<32-1 {
		return nil, ErrInvalidCapacity
	}
	c := layout(base, capacity)
	h := c.header()
	for i := uint64(0); i < capacity; i++ {
		s := c.slot(uint32(i))
		atomic.StoreUint64(&s.generation, 0)
		atomic.StoreUint64(&s.occupied, 0)
		atomic.StoreUint64(&s.value, 0)
		atomic.StoreUint64(&s.pid, 0)

		link := uint32(0)
		if i+1 < capacity {
			link = uint32(i + 2)
		}
		atomic.StoreUint32(c.link(uint32(i)), link)
	}
	atomic.StoreUint64(&h.changes, 0)
	atomic.StoreUint64(&h.active, 0)
	atomic.StoreUint64(&h.freeHead, 1)
	atomic.StoreUint64(&h.capacity, capacity)
	return c, nil
}

// Attach returns a handle to a registry previously initialized at base.
func Attach(base uintptr) (*Container, error) {
	capacity := atomic.LoadUint64(&(*header)(unsafe.Pointer(base)).capacity)
	if capacity == 0 {
		return nil, ErrNotInitialized
	}
	return layout(base, capacity), nil
}

func layout(base uintptr, capacity uint64) *Container {
	return &Container{
		base:     base,
		capacity: capacity,
		next:     base + headerSize,
		slots:    base + headerSize + nextSize(capacity),
	}
}

func (c *Container) header() *header {
	return (*header)(unsafe.Pointer(c.base))
}

func (c *Container) slot(i uint32) *slot {
	return (*slot)(unsafe.Pointer(c.slots + unsafe.Sizeof(slot{})*uintptr(i)))
}

func (c *Container) link(i uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(c.next + 4*uintptr(i)))
}

// Capacity returns the number of slots.
func (c *Container) Capacity() uint64 {
	return c.capacity
}

// Len returns the number of identities currently held.
func (c *Container) Len() uint64 {
	return atomic.LoadUint64(&c.header().active)
}

// Add inserts id and returns the token owning its slot. It returns false
// when every slot is taken.
func (c *Container) Add(id protocol.PortID) (*UniqueSlotToken, bool) {
	index, ok := c.acquireIndex()
	if !ok {
		return nil, false
	}

	s := c.slot(index)
	atomic.AddUint64(&s.generation, 1)
	atomic.StoreUint64(&s.value, id.Value)
	atomic.StoreUint64(&s.pid, uint64(id.Pid))
	atomic.StoreUint64(&s.occupied, 1)
	atomic.AddUint64(&s.generation, 1)

	h := c.header()
	atomic.AddUint64(&h.active, 1)
	atomic.AddUint64(&h.changes, 1)
	return &UniqueSlotToken{container: c, index: index}, true
}

func (c *Container) remove(index uint32) {
	s := c.slot(index)
	atomic.AddUint64(&s.generation, 1)
	atomic.StoreUint64(&s.occupied, 0)
	atomic.StoreUint64(&s.value, 0)
	atomic.StoreUint64(&s.pid, 0)
	atomic.AddUint64(&s.generation, 1)

	h := c.header()
	atomic.AddUint64(&h.active, ^uint64(0))
	atomic.AddUint64(&h.changes, 1)
	c.releaseIndex(index)
}

func (c *Container) acquireIndex() (uint32, bool) {
	h := c.header()
	for {
		old := atomic.LoadUint64(&h.freeHead)
		top := uint32(old)
		if top == 0 {
			return 0, false
		}
		next := atomic.LoadUint32(c.link(top - 1))
		tag := old>>32 + 1
		if atomic.CompareAndSwapUint64(&h.freeHead, old, tag<<32|uint64(next)) {
			return top - 1, true
		}
	}
}

func (c *Container) releaseIndex(index uint32) {
	h := c.header()
	for {
		old := atomic.LoadUint64(&h.freeHead)
		atomic.StoreUint32(c.link(index), uint32(old))
		tag := old>>32 + 1
		if atomic.CompareAndSwapUint64(&h.freeHead, old, tag<<32|uint64(index+1)) {
			return
		}
	}
}

// UniqueSlotToken owns one registry slot. Releasing it removes the identity.
type UniqueSlotToken struct {
	container *Container
	index     uint32
	released  atomic.Bool
}

// Index returns the slot owned by the token.
func (t *UniqueSlotToken) Index() uint32 {
	return t.index
}

// Release removes the identity from the registry. Only the first call has
// an effect.
func (t *UniqueSlotToken) Release() {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return
	}
	t.container.remove(t.index)
}
