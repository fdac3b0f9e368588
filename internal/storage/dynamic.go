package storage

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"gosuda.org/zcipc/internal/bump"
	"gosuda.org/zcipc/internal/protocol"
	"gosuda.org/zcipc/internal/shm"
)

var (
	// ErrInitializationNotYetFinalized means the creator has not published
	// the storage within the wait timeout.
	ErrInitializationNotYetFinalized = errors.New("zcipc: dynamic storage initialization not yet finalized")

	// ErrMarkedForDestruction means the last owner already left and the
	// storage is being removed.
	ErrMarkedForDestruction = errors.New("zcipc: dynamic storage is marked for destruction")
)

// Dynamic Storage Memory Layout:
//
// <<<< base
// PREAMBLE   (64 bytes)
// HEADER     (64 bytes)  // reference counter, payload size
// PAYLOAD                // laid out by the caller with a bump allocator
// <<<< end

type dynamicHeader struct {
	refs        uint64
	payloadSize uint64
	_           [6]uint64
}

const (
	dynamicHeaderOffset  = protocol.PreambleSize
	dynamicPayloadOffset = dynamicHeaderOffset + unsafe.Sizeof(dynamicHeader{})
)

// PayloadAlignment is the alignment of the payload start and of every block
// the layout function should request.
const PayloadAlignment = 64

// Layout places the payload structures. It runs once on the creating side
// with init set, and once on every opening side with init cleared; both runs
// must request the same blocks in the same order.
type Layout func(alloc *bump.Allocator, init bool) error

// Dynamic is one process's handle onto a dynamic storage.
type Dynamic struct {
	mem    *shm.SharedMemory
	header *dynamicHeader
}

// CreateDynamic creates the storage with one reference held by the caller.
func CreateDynamic(provider shm.Provider, name string, payloadSize uintptr, layout Layout) (*Dynamic, error) {
	mem, err := provider.Create(name, int(dynamicPayloadOffset+payloadSize))
	if err != nil {
		return nil, mapShmError(err)
	}

	base := mem.Base()
	d := &Dynamic{mem: mem, header: (*dynamicHeader)(unsafe.Pointer(base + dynamicHeaderOffset))}
	atomic.StoreUint64(&d.header.payloadSize, uint64(payloadSize))
	atomic.StoreUint64(&d.header.refs, 1)

	if err := layout(bump.New(base+dynamicPayloadOffset, payloadSize), true); err != nil {
		mem.Close()
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	protocol.PreambleAt(base).Publish(protocol.KindDynamicConfig)
	mem.SetOwnership(false)
	return d, nil
}

// OpenDynamic attaches to an existing storage and takes a reference on it.
func OpenDynamic(provider shm.Provider, name string, timeout time.Duration, layout Layout) (*Dynamic, error) {
	mem, err := provider.Open(name)
	if errors.Is(err, shm.ErrNotReady) {
		return nil, ErrInitializationNotYetFinalized
	}
	if err != nil {
		return nil, mapShmError(err)
	}

	base := mem.Base()
	if err := protocol.PreambleAt(base).Wait(protocol.KindDynamicConfig, timeout); err != nil {
		mem.Close()
		if errors.Is(err, protocol.ErrNotInitialized) {
			return nil, ErrInitializationNotYetFinalized
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	d := &Dynamic{mem: mem, header: (*dynamicHeader)(unsafe.Pointer(base + dynamicHeaderOffset))}
	payloadSize := uintptr(atomic.LoadUint64(&d.header.payloadSize))
	if int(dynamicPayloadOffset+payloadSize) > mem.Size() {
		mem.Close()
		return nil, fmt.Errorf("%w: payload exceeds mapping", ErrInternal)
	}

	for {
		refs := atomic.LoadUint64(&d.header.refs)
		if refs == 0 {
			mem.Close()
			return nil, ErrMarkedForDestruction
		}
		if atomic.CompareAndSwapUint64(&d.header.refs, refs, refs+1) {
			break
		}
	}

	if err := layout(bump.New(base+dynamicPayloadOffset, payloadSize), false); err != nil {
		d.DecrementReferenceCounter()
		mem.Close()
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return d, nil
}

// Name returns the storage name.
func (d *Dynamic) Name() string {
	return d.mem.Name()
}

// ReferenceCount returns the number of handles across all processes.
func (d *Dynamic) ReferenceCount() uint64 {
	return atomic.LoadUint64(&d.header.refs)
}

// DecrementReferenceCounter drops this handle's reference and reports
// whether it was the last one. The last owner is responsible for removing
// the storage and its static counterpart.
func (d *Dynamic) DecrementReferenceCounter() bool {
	return atomic.AddUint64(&d.header.refs, ^uint64(0)) == 0
}

// AcquireOwnership makes Close remove the storage.
func (d *Dynamic) AcquireOwnership() {
	d.mem.SetOwnership(true)
}

// ReleaseOwnership makes Close keep the storage.
func (d *Dynamic) ReleaseOwnership() {
	d.mem.SetOwnership(false)
}

// Close unmaps the storage, removing it when owned.
func (d *Dynamic) Close() error {
	return d.mem.Close()
}

// PayloadSize returns the bytes available to the layout function.
func PayloadSize(blocks ...uintptr) uintptr {
	return bump.Required(PayloadAlignment, blocks...)
}

func mapShmError(err error) error {
	switch {
	case errors.Is(err, shm.ErrAlreadyExists):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case errors.Is(err, shm.ErrDoesNotExist):
		return fmt.Errorf("%w: %v", ErrDoesNotExist, err)
	case errors.Is(err, shm.ErrPermissionDenied):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}
