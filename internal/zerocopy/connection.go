// Package zerocopy implements the connection between exactly one publisher
// and one subscriber: a bounded ring of chunk offsets towards the subscriber
// and a retrieve ring that hands consumed offsets back.
package zerocopy

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"gosuda.org/zcipc/internal/mpmc"
	"gosuda.org/zcipc/internal/pool"
	"gosuda.org/zcipc/internal/protocol"
	"gosuda.org/zcipc/internal/shm"
)

// Creation errors.
var (
	ErrInternal                          = errors.New("zcipc: connection internal error")
	ErrAnotherInstanceIsAlreadyConnected = errors.New("zcipc: another instance is already connected")
	ErrConnectionMaybeCorrupted          = errors.New("zcipc: connection maybe corrupted")
	ErrIncompatibleBufferSize            = errors.New("zcipc: incompatible buffer size")
	ErrIncompatibleMaxBorrowedSamples    = errors.New("zcipc: incompatible max borrowed sample setting")
	ErrIncompatibleOverflowSetting       = errors.New("zcipc: incompatible overflow setting")
)

// Transfer errors.
var (
	ErrReceiveBufferFull                = errors.New("zcipc: receive buffer full")
	ErrClearRetrieveChannelBeforeSend   = errors.New("zcipc: clear retrieve channel before send")
	ErrReceiveWouldExceedMaxBorrowValue = errors.New("zcipc: receive would exceed max borrow value")
	ErrRetrieveBufferFull               = errors.New("zcipc: retrieve buffer full")
)

const (
	DefaultBufferSize         = 4
	DefaultMaxBorrowedSamples = 4
	DefaultTimeout            = 500 * time.Millisecond
)

const (
	senderAttached uint64 = 1 << iota
	receiverAttached
)

// Connection Memory Layout:
//
// <<<< base
// PREAMBLE       (64 bytes)
// MANAGEMENT     (64 bytes)   // settings, attached sides, borrow counter
// FORWARD RING   (buffer size)
// RETRIEVE RING  (buffer size + max borrowed samples)
// <<<< end

type management struct {
	bufferSize   uint64
	maxBorrowed  uint64
	safeOverflow uint64
	state        uint64
	borrowed     uint64
	_            [3]uint64
}

const managementOffset = protocol.PreambleSize

func align64(v uintptr) uintptr {
	return (v + 63) &^ 63
}

func forwardOffset() uintptr {
	return align64(managementOffset + unsafe.Sizeof(management{}))
}

func retrieveOffset(bufferSize uint64) uintptr {
	return align64(forwardOffset() + mpmc.Size[uint64](bufferSize))
}

// MemorySize returns the bytes a connection with the given settings needs.
func MemorySize(bufferSize, maxBorrowed uint64) int {
	return int(retrieveOffset(bufferSize) + mpmc.Size[uint64](bufferSize+maxBorrowed))
}

// Builder configures both sides of a connection. Both sides must agree on
// every setting.
type Builder struct {
	Provider           shm.Provider
	Name               string
	BufferSize         uint64
	MaxBorrowedSamples uint64
	EnableSafeOverflow bool
	Timeout            time.Duration // how long to wait for the other side to finish creating
}

// CreateSender attaches the sending side.
func (b Builder) CreateSender() (*Sender, error) {
	c, err := b.attach(senderAttached)
	if err != nil {
		return nil, err
	}
	return &Sender{conn: c}, nil
}

// CreateReceiver attaches the receiving side.
func (b Builder) CreateReceiver() (*Receiver, error) {
	c, err := b.attach(receiverAttached)
	if err != nil {
		return nil, err
	}
	return &Receiver{conn: c}, nil
}

func (b Builder) withDefaults() Builder {
	if b.BufferSize == 0 {
		b.BufferSize = DefaultBufferSize
	}
	if b.MaxBorrowedSamples == 0 {
		b.MaxBorrowedSamples = DefaultMaxBorrowedSamples
	}
	if b.Timeout == 0 {
		b.Timeout = DefaultTimeout
	}
	return b
}

func (b Builder) attach(side uint64) (*connection, error) {
	b = b.withDefaults()
	deadline := time.Now().Add(b.Timeout)

	for {
		mem, err := b.Provider.Create(b.Name, MemorySize(b.BufferSize, b.MaxBorrowedSamples))
		if err == nil {
			return b.initialize(mem, side), nil
		}
		if !errors.Is(err, shm.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}

		c, err := b.open(side, deadline)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, errRetry) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s did not become ready", ErrConnectionMaybeCorrupted, b.Name)
		}
		runtime.Gosched()
	}
}

// errRetry signals that the object vanished or is being torn down.
var errRetry = errors.New("retry")

func (b Builder) initialize(mem *shm.SharedMemory, side uint64) *connection {
	base := mem.Base()
	m := (*management)(unsafe.Pointer(base + managementOffset))
	atomic.StoreUint64(&m.bufferSize, b.BufferSize)
	atomic.StoreUint64(&m.maxBorrowed, b.MaxBorrowedSamples)
	safe := uint64(0)
	if b.EnableSafeOverflow {
		safe = 1
	}
	atomic.StoreUint64(&m.safeOverflow, safe)
	atomic.StoreUint64(&m.borrowed, 0)
	atomic.StoreUint64(&m.state, side)

	mpmc.Init[uint64](base+forwardOffset(), b.BufferSize)
	mpmc.Init[uint64](base+retrieveOffset(b.BufferSize), b.BufferSize+b.MaxBorrowedSamples)
	protocol.PreambleAt(base).Publish(protocol.KindConnection)

	return newConnection(mem, side, b.BufferSize, b.MaxBorrowedSamples, b.EnableSafeOverflow)
}

func (b Builder) open(side uint64, deadline time.Time) (*connection, error) {
	mem, err := b.Provider.Open(b.Name)
	if errors.Is(err, shm.ErrDoesNotExist) || errors.Is(err, shm.ErrNotReady) {
		return nil, errRetry
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	base := mem.Base()
	if err := protocol.PreambleAt(base).Wait(protocol.KindConnection, time.Until(deadline)); err != nil {
		mem.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionMaybeCorrupted, err)
	}

	m := (*management)(unsafe.Pointer(base + managementOffset))
	switch {
	case atomic.LoadUint64(&m.bufferSize) != b.BufferSize:
		mem.Close()
		return nil, ErrIncompatibleBufferSize
	case atomic.LoadUint64(&m.maxBorrowed) != b.MaxBorrowedSamples:
		mem.Close()
		return nil, ErrIncompatibleMaxBorrowedSamples
	case (atomic.LoadUint64(&m.safeOverflow) == 1) != b.EnableSafeOverflow:
		mem.Close()
		return nil, ErrIncompatibleOverflowSetting
	}
	if MemorySize(b.BufferSize, b.MaxBorrowedSamples) > mem.Size() {
		mem.Close()
		return nil, ErrConnectionMaybeCorrupted
	}

	for {
		state := atomic.LoadUint64(&m.state)
		if state == 0 {
			// both sides left, the name is about to be removed
			mem.Close()
			return nil, errRetry
		}
		if state&side != 0 {
			mem.Close()
			return nil, ErrAnotherInstanceIsAlreadyConnected
		}
		if atomic.CompareAndSwapUint64(&m.state, state, state|side) {
			break
		}
	}

	return newConnection(mem, side, b.BufferSize, b.MaxBorrowedSamples, b.EnableSafeOverflow), nil
}

type connection struct {
	mem  *shm.SharedMemory
	mgmt *management
	side uint64

	bufferSize   uint64
	maxBorrowed  uint64
	safeOverflow bool

	forward  *mpmc.Ring[uint64]
	retrieve *mpmc.Ring[uint64]
	closed   bool
}

func newConnection(mem *shm.SharedMemory, side, bufferSize, maxBorrowed uint64, safeOverflow bool) *connection {
	base := mem.Base()
	return &connection{
		mem:          mem,
		mgmt:         (*management)(unsafe.Pointer(base + managementOffset)),
		side:         side,
		bufferSize:   bufferSize,
		maxBorrowed:  maxBorrowed,
		safeOverflow: safeOverflow,
		forward:      mpmc.Attach[uint64](base+forwardOffset(), 0),
		retrieve:     mpmc.Attach[uint64](base+retrieveOffset(bufferSize), 0),
	}
}

// close detaches this side; the last side to leave removes the object.
func (c *connection) close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	for {
		state := atomic.LoadUint64(&c.mgmt.state)
		if atomic.CompareAndSwapUint64(&c.mgmt.state, state, state&^c.side) {
			c.mem.SetOwnership(state&^c.side == 0)
			break
		}
	}
	return c.mem.Close()
}

func (c *connection) isConnected() bool {
	return atomic.LoadUint64(&c.mgmt.state) == senderAttached|receiverAttached
}

// Sender is the publisher side of a connection. It is not safe for
// concurrent use.
type Sender struct {
	conn *connection
}

func (s *Sender) BufferSize() uint64         { return s.conn.bufferSize }
func (s *Sender) MaxBorrowedSamples() uint64 { return s.conn.maxBorrowed }
func (s *Sender) HasSafeOverflow() bool      { return s.conn.safeOverflow }
func (s *Sender) IsConnected() bool          { return s.conn.isConnected() }
func (s *Sender) Close() error               { return s.conn.close() }

// TrySend queues offset without blocking. With safe overflow a full buffer
// gives up its oldest entry, which is returned for the caller to release.
func (s *Sender) TrySend(offset pool.PointerOffset) (pool.PointerOffset, bool, error) {
	return s.send(offset, false)
}

// BlockingSend is TrySend that waits for buffer space instead of failing
// when safe overflow is disabled.
func (s *Sender) BlockingSend(offset pool.PointerOffset) (pool.PointerOffset, bool, error) {
	return s.send(offset, true)
}

func (s *Sender) send(offset pool.PointerOffset, blocking bool) (pool.PointerOffset, bool, error) {
	c := s.conn
	retrieveCapacity := c.bufferSize + c.maxBorrowed

	inFlight := c.forward.Len() + atomic.LoadUint64(&c.mgmt.borrowed) + c.retrieve.Len()
	if c.safeOverflow && c.forward.Len() >= c.bufferSize {
		inFlight--
	}
	if inFlight >= retrieveCapacity {
		return 0, false, ErrClearRetrieveChannelBeforeSend
	}

	var evicted pool.PointerOffset
	hasEvicted := false
	for {
		if c.forward.Len() >= c.bufferSize {
			switch {
			case c.safeOverflow && !hasEvicted:
				if old, ok := c.forward.TryDequeue(); ok {
					evicted, hasEvicted = pool.PointerOffset(old), true
				}
				continue
			case !c.safeOverflow && !blocking:
				return 0, false, ErrReceiveBufferFull
			}
			runtime.Gosched()
			continue
		}

		if c.forward.TryEnqueue(uint64(offset)) {
			return evicted, hasEvicted, nil
		}
		// the receiver claimed the slot but has not handed it back yet
		runtime.Gosched()
	}
}

// Reclaim takes one offset the receiver is done with.
func (s *Sender) Reclaim() (pool.PointerOffset, bool) {
	v, ok := s.conn.retrieve.TryDequeue()
	return pool.PointerOffset(v), ok
}

// Receiver is the subscriber side of a connection. It is not safe for
// concurrent use.
type Receiver struct {
	conn *connection
}

func (r *Receiver) BufferSize() uint64         { return r.conn.bufferSize }
func (r *Receiver) MaxBorrowedSamples() uint64 { return r.conn.maxBorrowed }
func (r *Receiver) HasSafeOverflow() bool      { return r.conn.safeOverflow }
func (r *Receiver) IsConnected() bool          { return r.conn.isConnected() }
func (r *Receiver) Close() error               { return r.conn.close() }

// Borrowed returns the number of received and not yet released offsets.
func (r *Receiver) Borrowed() uint64 {
	return atomic.LoadUint64(&r.conn.mgmt.borrowed)
}

// Receive takes the oldest queued offset. ok is false when nothing is queued.
func (r *Receiver) Receive() (pool.PointerOffset, bool, error) {
	c := r.conn
	if atomic.LoadUint64(&c.mgmt.borrowed) >= c.maxBorrowed {
		return 0, false, ErrReceiveWouldExceedMaxBorrowValue
	}

	// count the borrow first so the sender never underestimates what is in flight
	atomic.AddUint64(&c.mgmt.borrowed, 1)
	v, ok := c.forward.TryDequeue()
	if !ok {
		atomic.AddUint64(&c.mgmt.borrowed, ^uint64(0))
		return 0, false, nil
	}
	return pool.PointerOffset(v), true, nil
}

// Release hands offset back to the sender.
func (r *Receiver) Release(offset pool.PointerOffset) error {
	c := r.conn
	if !c.retrieve.TryEnqueue(uint64(offset)) {
		return ErrRetrieveBufferFull
	}
	atomic.AddUint64(&c.mgmt.borrowed, ^uint64(0))
	return nil
}
