package zcipc

import (
	"fmt"
	"time"
	"unsafe"

	"go.uber.org/multierr"

	"gosuda.org/zcipc/internal/pool"
	"gosuda.org/zcipc/internal/protocol"
	"gosuda.org/zcipc/internal/shm"
)

// Data Segment Memory Layout:
//
// <<<< base
// PREAMBLE        (64 bytes)
// POOL MANAGEMENT          // allocator header, free list links
// CHUNKS                   // [ChunkHeader][padding][payload] each
// <<<< end

const chunkHeaderSize = uint64(unsafe.Sizeof(protocol.ChunkHeader{}))

// chunkLayout places header and payload inside one chunk.
type chunkLayout struct {
	payloadOffset uint64
	chunkSize     uint64
	alignment     uint64
}

func chunkLayoutOf(t typeDetails) chunkLayout {
	align := max(t.alignment, uint64(unsafe.Alignof(protocol.ChunkHeader{})), 8)
	payloadOffset := (chunkHeaderSize + t.alignment - 1) / t.alignment * t.alignment
	return chunkLayout{
		payloadOffset: payloadOffset,
		chunkSize:     pool.ChunkSize(payloadOffset+t.size, align),
		alignment:     align,
	}
}

// numberOfChunks is the number of chunks a publisher can have in use at the
// same time: a full buffer plus borrowed samples per subscriber, the history,
// the loans and the one being sent.
func numberOfChunks(c *PublishSubscribeConfig, maxLoaned uint64) uint64 {
	return c.MaxSubscribers*(c.SubscriberBufferSize+c.SubscriberMaxBorrowedSamples) + c.HistorySize + maxLoaned + 1
}

func segmentName(publisher UniquePublisherID, suffix string) string {
	return publisher.String() + suffix
}

// dataSegment is one mapping of a publisher's chunk pool.
type dataSegment struct {
	mem    *shm.SharedMemory
	alloc  *pool.Allocator
	layout chunkLayout
}

func createDataSegment(provider shm.Provider, name string, layout chunkLayout, chunks uint64) (*dataSegment, error) {
	size := protocol.PreambleSize + pool.MemorySize(layout.chunkSize, chunks, layout.alignment)
	mem, err := provider.Create(name, int(size))
	if err != nil {
		return nil, err
	}
	alloc, err := pool.Init(mem.Base()+protocol.PreambleSize, layout.chunkSize, chunks, layout.alignment)
	if err != nil {
		return nil, multierr.Append(err, mem.Close())
	}
	protocol.PreambleAt(mem.Base()).Publish(protocol.KindDataSegment)
	return &dataSegment{mem: mem, alloc: alloc, layout: layout}, nil
}

func openDataSegment(provider shm.Provider, name string, layout chunkLayout, timeout time.Duration) (*dataSegment, error) {
	mem, err := provider.Open(name)
	if err != nil {
		return nil, err
	}
	if err := protocol.PreambleAt(mem.Base()).Wait(protocol.KindDataSegment, timeout); err != nil {
		return nil, multierr.Append(err, mem.Close())
	}
	alloc, err := pool.Attach(mem.Base() + protocol.PreambleSize)
	if err != nil {
		return nil, multierr.Append(err, mem.Close())
	}
	if alloc.ChunkSize() != layout.chunkSize {
		return nil, multierr.Append(fmt.Errorf("zcipc: data segment %s has chunks of %d bytes, expected %d", name, alloc.ChunkSize(), layout.chunkSize), mem.Close())
	}
	return &dataSegment{mem: mem, alloc: alloc, layout: layout}, nil
}

func (d *dataSegment) header(offset pool.PointerOffset) *protocol.ChunkHeader {
	return (*protocol.ChunkHeader)(unsafe.Pointer(d.alloc.Address(offset)))
}

func (d *dataSegment) payload(offset pool.PointerOffset) unsafe.Pointer {
	return unsafe.Pointer(d.alloc.Address(offset) + uintptr(d.layout.payloadOffset))
}

func (d *dataSegment) close() error {
	return d.mem.Close()
}
