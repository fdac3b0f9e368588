package shm

import (
	"fmt"
	"sync"
	"unsafe"
)

// localObjects is shared by every ProcessLocal provider so that ports of the
// same process find each other's objects.
var localObjects = struct {
	sync.Mutex
	m map[string][]uint64
}{m: make(map[string][]uint64)}

// ProcessLocal keeps memory objects in the heap of the current process.
// Objects of different namespaces never collide.
type ProcessLocal struct {
	namespace string
}

// NewProcessLocal returns a provider for the given namespace.
func NewProcessLocal(namespace string) *ProcessLocal {
	return &ProcessLocal{namespace: namespace}
}

func (p *ProcessLocal) key(name string) string {
	return p.namespace + "\x00" + name
}

func (p *ProcessLocal) Create(name string, size int) (*SharedMemory, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	localObjects.Lock()
	defer localObjects.Unlock()
	if _, ok := localObjects.m[p.key(name)]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	// word backing keeps the region 8-byte aligned for atomics
	words := make([]uint64, (size+7)/8)
	localObjects.m[p.key(name)] = words

	s := p.wrap(name, size, words)
	s.owner = true
	return s, nil
}

func (p *ProcessLocal) Open(name string) (*SharedMemory, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	localObjects.Lock()
	defer localObjects.Unlock()
	words, ok := localObjects.m[p.key(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDoesNotExist, name)
	}
	return p.wrap(name, len(words)*8, words), nil
}

func (p *ProcessLocal) Remove(name string) error {
	localObjects.Lock()
	defer localObjects.Unlock()
	if _, ok := localObjects.m[p.key(name)]; !ok {
		return fmt.Errorf("%w: %s", ErrDoesNotExist, name)
	}
	delete(localObjects.m, p.key(name))
	return nil
}

func (p *ProcessLocal) Exists(name string) bool {
	localObjects.Lock()
	defer localObjects.Unlock()
	_, ok := localObjects.m[p.key(name)]
	return ok
}

func (p *ProcessLocal) wrap(name string, size int, words []uint64) *SharedMemory {
	return &SharedMemory{
		name:     name,
		size:     size,
		data:     unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size),
		provider: p,
	}
}
