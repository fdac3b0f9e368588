package mpmc

import (
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

// Ring is a lock-free multi-producer multi-consumer ring buffer that lives in
// caller-provided memory, usually a shared memory mapping.
//
// Every slot carries a sequence number; producers and consumers claim slots
// by CAS on the write and read positions and publish them by storing the
// next sequence. Nothing in the ring refers to process-local addresses, so
// every process that maps the region can attach to it at its own base.
type Ring[T any] struct {
	mask uint64  // capacity - 1
	cap  uint64  // power of two
	head uintptr // ring header in mapped memory
	data uintptr // first slot
}

// Init initializes a ring at h with room for at least size elements.
// It returns false if the region already holds an initialized ring.
//
// The memory layout is:
//
//	[header (256 bytes)][slots]
func Init[T any](h uintptr, size uint64) bool {
	size = roundUpPowerOf2(size)
	r := (*ringHeader)(unsafe.Pointer(h))

	magic := atomic.LoadUint64(&r.magic)
	if magic == ringMagic {
		return false
	}
	if !atomic.CompareAndSwapUint64(&r.magic, magic, ringMagic) {
		return false
	}

	atomic.StoreUint64(&r.size, size)
	data := h + headerSize
	for i := uint64(0); i < size; i++ {
		e := slotAt[T](data, i)
		e.value = *new(T)
		atomic.StoreUint64(&e.seq, i)
	}
	atomic.StoreUint64(&r.r, 0)
	atomic.StoreUint64(&r.w, 0)

	atomic.StoreUint64(&r.flag, uint64(flagInit))
	return true
}

// Attach returns a handle to the ring initialized at h. It spins until the
// ring is initialized or timeout elapses (0 waits forever), and returns nil
// on timeout.
func Attach[T any](h uintptr, timeout time.Duration) *Ring[T] {
	start := time.Now()
	r := (*ringHeader)(unsafe.Pointer(h))

	for {
		magic := atomic.LoadUint64(&r.magic)
		flag := atomic.LoadUint64(&r.flag)
		if magic == ringMagic && flag&uint64(flagInit) != 0 {
			size := atomic.LoadUint64(&r.size)
			return &Ring[T]{
				cap:  size,
				mask: size - 1,
				head: h,
				data: h + headerSize,
			}
		}

		if timeout > 0 && time.Since(start) >= timeout {
			return nil
		}
		runtime.Gosched()
	}
}

// TryEnqueue appends elem. It returns false without blocking when every slot
// is taken.
func (m *Ring[T]) TryEnqueue(elem T) bool {
	h := (*ringHeader)(unsafe.Pointer(m.head))

	var e *slot[T]
	p := atomic.LoadUint64(&h.w)
	for {
		e = slotAt[T](m.data, p&m.mask)
		seq := atomic.LoadUint64(&e.seq)
		diff := int64(seq - p)

		if diff == 0 {
			if atomic.CompareAndSwapUint64(&h.w, p, p+1) {
				break
			}
			p = atomic.LoadUint64(&h.w)
		} else if diff < 0 {
			// the slot still holds an element from the previous lap
			return false
		} else {
			p = atomic.LoadUint64(&h.w)
		}
	}

	e.value = elem
	atomic.StoreUint64(&e.seq, p+1)
	return true
}

// TryDequeue removes the oldest element. ok is false when the ring is empty.
func (m *Ring[T]) TryDequeue() (elem T, ok bool) {
	h := (*ringHeader)(unsafe.Pointer(m.head))

	var e *slot[T]
	p := atomic.LoadUint64(&h.r)
	for {
		e = slotAt[T](m.data, p&m.mask)
		seq := atomic.LoadUint64(&e.seq)
		diff := int64(seq - (p + 1))

		if diff == 0 {
			if atomic.CompareAndSwapUint64(&h.r, p, p+1) {
				break
			}
			p = atomic.LoadUint64(&h.r)
		} else if diff < 0 {
			return elem, false
		} else {
			p = atomic.LoadUint64(&h.r)
		}
	}

	elem = e.value
	atomic.StoreUint64(&e.seq, p+m.mask+1)
	return elem, true
}

// Len returns the number of claimed slots. Under concurrent access the value
// is a snapshot.
func (m *Ring[T]) Len() uint64 {
	h := (*ringHeader)(unsafe.Pointer(m.head))
	r := atomic.LoadUint64(&h.r)
	w := atomic.LoadUint64(&h.w)
	if w < r {
		return 0
	}
	return w - r
}

// Capacity returns the number of slots, a power of two.
func (m *Ring[T]) Capacity() uint64 {
	return m.cap
}

// Size returns the bytes a ring holding at least n elements occupies.
func Size[T any](n uint64) uintptr {
	return headerSize + unsafe.Sizeof(slot[T]{})*uintptr(roundUpPowerOf2(n))
}

const ringMagic uint64 = 0xc9d8c1d43f096701

type ringFlag uint64

const (
	flagReserved = ringFlag(1) << iota
	flagInit
)

// headerSize is the space reserved in front of the slots.
const headerSize = 256

// cacheLine is the padding unit between the read and write positions, in words.
const cacheLine = 16

type ringHeader struct {
	magic uint64
	size  uint64
	flag  uint64
	/* ======== Cache line boundary ======== */
	r  uint64
	_  [cacheLine - 4]uint64
	w  uint64
	_  [cacheLine - 1]uint64
}

type slot[T any] struct {
	value T
	seq   uint64
}

func slotAt[T any](data uintptr, i uint64) *slot[T] {
	return (*slot[T])(unsafe.Pointer(data + unsafe.Sizeof(slot[T]{})*uintptr(i)))
}

// roundUpPowerOf2 from https://graphics.stanford.edu/~seander/bithacks.html#RoundUpPowerOf2
func roundUpPowerOf2(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}
