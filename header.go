package zcipc

import (
	"time"

	"gosuda.org/zcipc/internal/protocol"
)

// Header is the metadata written in front of every payload.
type Header struct {
	h *protocol.ChunkHeader
}

// PublisherID returns the publisher that loaned the sample.
func (h Header) PublisherID() UniquePublisherID {
	return UniquePublisherID{portID(h.h.PublisherID)}
}

// Timestamp returns when the sample was loaned.
func (h Header) Timestamp() time.Time {
	return time.Unix(int64(h.h.Seconds), int64(h.h.Nanoseconds))
}

func writeHeader(h *protocol.ChunkHeader, publisher UniquePublisherID, now time.Time) {
	h.PublisherID = publisher.pid()
	h.Seconds = uint64(now.Unix())
	h.Nanoseconds = uint32(now.Nanosecond())
}
