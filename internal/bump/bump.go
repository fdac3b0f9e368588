// Package bump hands out aligned sub-ranges of a fixed memory region.
// Nothing is ever freed individually; the region goes away as a whole.
package bump

import (
	"errors"
	"sync/atomic"
)

var ErrOutOfMemory = errors.New("zcipc: bump allocator exhausted")

// Allocator is safe for concurrent use.
type Allocator struct {
	start uintptr
	size  uintptr
	used  atomic.Uintptr
}

// New returns an allocator over [start, start+size).
func New(start, size uintptr) *Allocator {
	return &Allocator{start: start, size: size}
}

// Allocate reserves size bytes aligned to align (a power of two) and
// returns their address.
func (a *Allocator) Allocate(size, align uintptr) (uintptr, error) {
	if align == 0 {
		align = 1
	}
	for {
		used := a.used.Load()
		addr := (a.start + used + align - 1) &^ (align - 1)
		end := addr + size - a.start
		if end > a.size {
			return 0, ErrOutOfMemory
		}
		if a.used.CompareAndSwap(used, end) {
			return addr, nil
		}
	}
}

// Used returns the bytes consumed including alignment padding.
func (a *Allocator) Used() uintptr {
	return a.used.Load()
}

// Required returns the bytes needed to place blocks of the given sizes one
// after another, each aligned to align, in the worst case.
func Required(align uintptr, sizes ...uintptr) uintptr {
	total := uintptr(0)
	for _, s := range sizes {
		total += s + align - 1
	}
	return total
}
