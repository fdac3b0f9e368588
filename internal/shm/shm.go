// Package shm provides named memory objects that several ports, possibly in
// different processes, map at the same time.
package shm

import (
	"errors"
	"sync"
	"unsafe"
)

var (
	ErrAlreadyExists    = errors.New("zcipc: shared memory already exists")
	ErrDoesNotExist     = errors.New("zcipc: shared memory does not exist")
	ErrPermissionDenied = errors.New("zcipc: shared memory permission denied")
	ErrNotReady         = errors.New("zcipc: shared memory is not sized yet")
	ErrInvalidSize      = errors.New("zcipc: invalid shared memory size")
	ErrInvalidName      = errors.New("zcipc: invalid shared memory name")
)

// Provider creates, opens and removes named memory objects of one namespace.
type Provider interface {
	// Create creates and maps a zero-filled object. It fails with
	// ErrAlreadyExists if the name is taken. The returned handle owns the
	// object: closing it removes the name.
	Create(name string, size int) (*SharedMemory, error)

	// Open maps an existing object. The returned handle does not own it.
	Open(name string) (*SharedMemory, error)

	// Remove deletes the name. Existing mappings stay valid.
	Remove(name string) error

	// Exists reports whether name is present.
	Exists(name string) bool
}

// SharedMemory is one mapping of a named memory object.
type SharedMemory struct {
	name string  // name inside the provider's namespace
	size int     // mapped bytes
	fd   uintptr // descriptor of the backing file, 0 for process-local objects

	data     []byte
	provider Provider
	release  func() error // unmaps the region

	mu     sync.Mutex
	owner  bool
	closed bool
}

// Name returns the name of the object inside its namespace.
func (s *SharedMemory) Name() string {
	return s.name
}

// Size returns the size of the mapping in bytes.
func (s *SharedMemory) Size() int {
	return s.size
}

// FD returns the descriptor of the backing file, or 0 when the object lives
// in process memory.
func (s *SharedMemory) FD() uintptr {
	return s.fd
}

// Base returns the address the object is mapped at in this process.
// Offsets exchanged with other processes are relative to it.
func (s *SharedMemory) Base() uintptr {
	return uintptr(unsafe.Pointer(&s.data[0]))
}

// Bytes returns the mapped region.
func (s *SharedMemory) Bytes() []byte {
	return s.data
}

// SetOwnership decides whether Close removes the name.
func (s *SharedMemory) SetOwnership(owner bool) {
	s.mu.Lock()
	s.owner = owner
	s.mu.Unlock()
}

// HasOwnership reports whether Close removes the name.
func (s *SharedMemory) HasOwnership() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Close unmaps the object and, when owned, removes its name. Calling Close
// more than once is a no-op.
func (s *SharedMemory) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	owner := s.owner
	s.mu.Unlock()

	var err error
	if owner {
		if rerr := s.provider.Remove(s.name); rerr != nil && !errors.Is(rerr, ErrDoesNotExist) {
			err = rerr
		}
	}
	if s.release != nil {
		if uerr := s.release(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

func validName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return false
		}
	}
	return true
}
