// Package protocol defines the fixed layouts shared by every process that maps
// a zcipc memory object.
package protocol

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

//go:generate go tool stringer -type=Kind
type Kind uint32

const (
	// KindUnknown is the zero value of an unused region.
	KindUnknown Kind = 0x00

	// KindDynamicConfig: refcount, two port registries.
	KindDynamicConfig Kind = 0x01

	// KindDataSegment: pool allocator management, chunks.
	KindDataSegment Kind = 0x02

	// KindConnection: connection management, forward ring, retrieve ring.
	KindConnection Kind = 0x03

	// KindEventChannel: ring of event ids.
	KindEventChannel Kind = 0x04

	// 0x05-0x0F: Reserved
)

// Magic marks a region written by this package.
const Magic uint64 = 0x7a63697063000001

// Version is bumped whenever a layout in this module changes.
const Version uint32 = 1

const (
	flagInit uint64 = 1 << iota
	flagCorrupted
)

var (
	ErrNotInitialized = errors.New("zcipc: memory object not initialized")
	ErrBadMagic       = errors.New("zcipc: memory object has an unknown layout")
	ErrVersion        = errors.New("zcipc: memory object version mismatch")
	ErrKind           = errors.New("zcipc: memory object kind mismatch")
)

// Preamble heads every shared memory object. The creator writes it last, so
// an attached process that observes Ready sees a fully written region.
type Preamble struct {
	magic   uint64
	kind    uint32
	version uint32
	flag    uint64
	_       uint64
}

// PreambleSize is the space reserved for a Preamble, a multiple of the cache line.
const PreambleSize = 64

// PreambleAt returns the preamble at the start of the region at base.
func PreambleAt(base uintptr) *Preamble {
	return (*Preamble)(unsafe.Pointer(base))
}

// Publish marks the region as fully initialized.
func (p *Preamble) Publish(kind Kind) {
	atomic.StoreUint32(&p.kind, uint32(kind))
	atomic.StoreUint32(&p.version, Version)
	atomic.StoreUint64(&p.magic, Magic)
	atomic.StoreUint64(&p.flag, flagInit)
}

// MarkCorrupted flags the region so later attach attempts fail fast.
func (p *Preamble) MarkCorrupted() {
	for {
		old := atomic.LoadUint64(&p.flag)
		if atomic.CompareAndSwapUint64(&p.flag, old, old|flagCorrupted) {
			return
		}
	}
}

// Check validates a published region of the given kind.
func (p *Preamble) Check(kind Kind) error {
	flag := atomic.LoadUint64(&p.flag)
	if flag&flagInit == 0 {
		return ErrNotInitialized
	}
	if flag&flagCorrupted != 0 || atomic.LoadUint64(&p.magic) != Magic {
		return ErrBadMagic
	}
	if v := atomic.LoadUint32(&p.version); v != Version {
		return fmt.Errorf("%w: got %d, want %d", ErrVersion, v, Version)
	}
	if k := Kind(atomic.LoadUint32(&p.kind)); k != kind {
		return fmt.Errorf("%w: got %s, want %s", ErrKind, k, kind)
	}
	return nil
}

// Wait polls Check until the region is published or timeout elapses.
func (p *Preamble) Wait(kind Kind, timeout time.Duration) error {
	start := time.Now()
	for {
		err := p.Check(kind)
		if !errors.Is(err, ErrNotInitialized) {
			return err
		}
		if time.Since(start) >= timeout {
			return err
		}
		runtime.Gosched()
	}
}

// PortID identifies a port across every process of a host: the owning
// process id plus a per-process strictly increasing timestamp value.
type PortID struct {
	Value uint64
	Pid   uint32
	_     uint32
}

// IsZero reports whether id is unset.
func (id PortID) IsZero() bool {
	return id.Value == 0 && id.Pid == 0
}

func (id PortID) String() string {
	return fmt.Sprintf("%d_%x", id.Pid, id.Value)
}

// ChunkHeader precedes every payload in a data segment.
type ChunkHeader struct {
	PublisherID PortID
	Seconds     uint64
	Nanoseconds uint32
	_           uint32
}
