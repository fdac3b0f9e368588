// Package pool implements a fixed-size chunk allocator over mapped memory.
// Chunks are addressed by offsets, never by pointers, so every process that
// maps the memory resolves them against its own base address.
package pool

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// PointerOffset is the position of a chunk relative to the start of the
// chunk area of its pool.
type PointerOffset uint64

var (
	ErrInvalidLayout  = errors.New("zcipc: pool chunk size, count and alignment must be positive")
	ErrInvalidOffset  = errors.New("zcipc: offset does not address a chunk of this pool")
	ErrDoubleFree     = errors.New("zcipc: chunk is not allocated")
	ErrNotInitialized = errors.New("zcipc: pool not initialized")
)

// allocated marks the link of a chunk that is handed out.
const allocated = ^uint32(0)

type header struct {
	chunkSize  uint64
	chunks     uint64
	dataOffset uint64
	head       uint64 // tag<<32 | index+1, 0 when exhausted
	used       uint64
	_          [3]uint64
}

const headerSize = unsafe.Sizeof(header{})

// Allocator hands out chunks of one pool. Allocate and Deallocate are
// lock-free.
type Allocator struct {
	base      uintptr
	chunkSize uint64
	chunks    uint64
	next      uintptr
	data      uintptr
}

// MemorySize returns the bytes a pool of chunks chunks of chunkSize bytes,
// each aligned to align, occupies.
func MemorySize(chunkSize, chunks, align uint64) uintptr {
	return uintptr(dataOffset(chunks, align) + chunkSize*chunks)
}

func dataOffset(chunks, align uint64) uint64 {
	off := uint64(headerSize) + chunks*4
	return (off + align - 1) / align * align
}

// ChunkSize rounds size up to align so consecutive chunks stay aligned.
func ChunkSize(size, align uint64) uint64 {
	if size == 0 {
		size = 1
	}
	return (size + align - 1) / align * align
}

// Init lays out a pool with every chunk free.
func Init(base uintptr, chunkSize, chunks, align uint64) (*Allocator, error) {
	if chunkSize == 0 || chunks == 0 || align == 0 || chunks >= uint64(allocated) {
		return nil, ErrInvalidLayout
	}
	if chunkSize%align != 0 {
		return nil, fmt.Errorf("%w: chunk size %d is not a multiple of %d", ErrInvalidLayout, chunkSize, align)
	}

	h := (*header)(unsafe.Pointer(base))
	a := layout(base, chunkSize, chunks, dataOffset(chunks, align))
	for i := uint64(0); i < chunks; i++ {
		link := uint32(0)
		if i+1 < chunks {
			link = uint32(i + 2)
		}
		atomic.StoreUint32(a.link(uint32(i)), link)
	}
	atomic.StoreUint64(&h.dataOffset, dataOffset(chunks, align))
	atomic.StoreUint64(&h.used, 0)
	atomic.StoreUint64(&h.head, 1)
	atomic.StoreUint64(&h.chunks, chunks)
	atomic.StoreUint64(&h.chunkSize, chunkSize)
	return a, nil
}

// Attach returns a handle to a pool initialized at base by another process.
func Attach(base uintptr) (*Allocator, error) {
	h := (*header)(unsafe.Pointer(base))
	chunkSize := atomic.LoadUint64(&h.chunkSize)
	chunks := atomic.LoadUint64(&h.chunks)
	if chunkSize == 0 || chunks == 0 {
		return nil, ErrNotInitialized
	}
	return layout(base, chunkSize, chunks, atomic.LoadUint64(&h.dataOffset)), nil
}

func layout(base uintptr, chunkSize, chunks, data uint64) *Allocator {
	return &Allocator{
		base:      base,
		chunkSize: chunkSize,
		chunks:    chunks,
		next:      base + headerSize,
		data:      base + uintptr(data),
	}
}

func (a *Allocator) header() *header {
	return (*header)(unsafe.Pointer(a.base))
}

func (a *Allocator) link(i uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(a.next + 4*uintptr(i)))
}

// ChunkSize returns the size of one chunk in bytes.
func (a *Allocator) ChunkSize() uint64 {
	return a.chunkSize
}

// NumberOfChunks returns the pool capacity.
func (a *Allocator) NumberOfChunks() uint64 {
	return a.chunks
}

// Used returns the number of chunks currently handed out.
func (a *Allocator) Used() uint64 {
	return atomic.LoadUint64(&a.header().used)
}

// Allocate takes a free chunk. It returns false when the pool is exhausted.
func (a *Allocator) Allocate() (PointerOffset, bool) {
	h := a.header()
	for {
		old := atomic.LoadUint64(&h.head)
		top := uint32(old)
		if top == 0 {
			return 0, false
		}
		next := atomic.LoadUint32(a.link(top - 1))
		if next == allocated {
			// popped by someone else meanwhile, the tag check below would fail too
			continue
		}
		tag := old>>32 + 1
		if atomic.CompareAndSwapUint64(&h.head, old, tag<<32|uint64(next)) {
			atomic.StoreUint32(a.link(top-1), allocated)
			atomic.AddUint64(&h.used, 1)
			return PointerOffset(uint64(top-1) * a.chunkSize), true
		}
	}
}

// Deallocate returns the chunk at offset to the pool.
func (a *Allocator) Deallocate(offset PointerOffset) error {
	index, err := a.Index(offset)
	if err != nil {
		return err
	}
	if !atomic.CompareAndSwapUint32(a.link(index), allocated, 0) {
		return fmt.Errorf("%w: offset %d", ErrDoubleFree, offset)
	}

	h := a.header()
	for {
		old := atomic.LoadUint64(&h.head)
		atomic.StoreUint32(a.link(index), uint32(old))
		tag := old>>32 + 1
		if atomic.CompareAndSwapUint64(&h.head, old, tag<<32|uint64(index+1)) {
			atomic.AddUint64(&h.used, ^uint64(0))
			return nil
		}
	}
}

// Index converts offset into the chunk index.
func (a *Allocator) Index(offset PointerOffset) (uint32, error) {
	if uint64(offset)%a.chunkSize != 0 || uint64(offset)/a.chunkSize >= a.chunks {
		return 0, fmt.Errorf("%w: offset %d", ErrInvalidOffset, offset)
	}
	return uint32(uint64(offset) / a.chunkSize), nil
}

// Address resolves offset in this process.
func (a *Allocator) Address(offset PointerOffset) uintptr {
	return a.data + uintptr(offset)
}
