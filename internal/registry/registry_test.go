package registry_test

import (
	"runtime"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/zcipc/internal/protocol"
	"gosuda.org/zcipc/internal/registry"
)

func newContainer(t *testing.T, capacity uint64) *registry.Container {
	t.Helper()
	words := make([]uint64, (registry.MemorySize(capacity)+7)/8)
	t.Cleanup(func() { runtime.KeepAlive(words) })

	c, err := registry.Init(uintptr(unsafe.Pointer(&words[0])), capacity)
	require.NoError(t, err)
	return c
}

func collect(s *registry.Snapshot) map[protocol.PortID]uint32 {
	m := make(map[protocol.PortID]uint32)
	s.ForEach(func(index uint32, id protocol.PortID) {
		m[id] = index
	})
	return m
}

func id(v uint64) protocol.PortID {
	return protocol.PortID{Value: v, Pid: 7}
}

func TestAddUntilFull(t *testing.T) {
	c := newContainer(t, 4)
	var tokens []*registry.UniqueSlotToken
	for i := uint64(1); i <= 4; i++ {
		tok, ok := c.Add(id(i))
		require.True(t, ok)
		tokens = append(tokens, tok)
	}
	_, ok := c.Add(id(5))
	assert.False(t, ok)
	assert.Equal(t, uint64(4), c.Len())

	tokens[1].Release()
	assert.Equal(t, uint64(3), c.Len())
	tok, ok := c.Add(id(6))
	require.True(t, ok)
	assert.Equal(t, tokens[1].Index(), tok.Index())
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := newContainer(t, 2)
	tok, ok := c.Add(id(1))
	require.True(t, ok)

	tok.Release()
	tok.Release()
	assert.Equal(t, uint64(0), c.Len())

	_, ok = c.Add(id(2))
	require.True(t, ok)
	_, ok = c.Add(id(3))
	require.True(t, ok)
	_, ok = c.Add(id(4))
	assert.False(t, ok, "double release must not free the slot twice")
}

func TestSnapshotTracksChanges(t *testing.T) {
	c := newContainer(t, 8)
	s := c.Snapshot()
	assert.False(t, s.Update())
	assert.Empty(t, collect(s))

	a, _ := c.Add(id(1))
	b, _ := c.Add(id(2))
	assert.True(t, s.Update())
	assert.Equal(t, map[protocol.PortID]uint32{id(1): a.Index(), id(2): b.Index()}, collect(s))
	assert.False(t, s.Update())

	a.Release()
	assert.True(t, s.Update())
	assert.Equal(t, map[protocol.PortID]uint32{id(2): b.Index()}, collect(s))
	assert.Equal(t, 1, s.Len())
}

func TestSnapshotOfAttachedHandle(t *testing.T) {
	words := make([]uint64, (registry.MemorySize(4)+7)/8)
	base := uintptr(unsafe.Pointer(&words[0]))
	writer, err := registry.Init(base, 4)
	require.NoError(t, err)

	reader, err := registry.Attach(base)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), reader.Capacity())

	s := reader.Snapshot()
	writer.Add(id(42))
	assert.True(t, s.Update())
	assert.Contains(t, collect(s), id(42))
	runtime.KeepAlive(words)
}

func TestAttachUninitialized(t *testing.T) {
	words := make([]uint64, 64)
	_, err := registry.Attach(uintptr(unsafe.Pointer(&words[0])))
	assert.ErrorIs(t, err, registry.ErrNotInitialized)
}

func TestInitRejectsZeroCapacity(t *testing.T) {
	words := make([]uint64, 64)
	_, err := registry.Init(uintptr(unsafe.Pointer(&words[0])), 0)
	assert.ErrorIs(t, err, registry.ErrInvalidCapacity)
}

func TestConcurrentAddRemove(t *testing.T) {
	const (
		workers    = 8
		iterations = 500
		capacity   = workers * 2
	)
	c := newContainer(t, capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	held := make(map[protocol.PortID]bool)

	reader := c.Snapshot()
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			reader.Update()
			seen := make(map[uint32]bool)
			reader.ForEach(func(index uint32, _ protocol.PortID) {
				if seen[index] {
					panic("slot visited twice")
				}
				seen[index] = true
			})
		}
	}()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				v := id(uint64(w*iterations + i + 1))
				tok, ok := c.Add(v)
				if !ok {
					t.Errorf("registry unexpectedly full")
					return
				}
				if i == iterations-1 {
					mu.Lock()
					held[v] = true
					mu.Unlock()
					continue
				}
				tok.Release()
			}
		}(w)
	}

	wg.Wait()
	close(stop)
	<-readerDone

	// the snapshot converges to exactly the held identities
	s := c.Snapshot()
	s.Update()
	got := collect(s)
	assert.Len(t, got, len(held))
	for v := range held {
		assert.Contains(t, got, v)
	}
	assert.Equal(t, uint64(len(held)), c.Len())
}
