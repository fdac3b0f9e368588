package zcipc

import (
	"os"
	"sync/atomic"
	"time"

	"gosuda.org/zcipc/internal/protocol"
)

var lastPortValue atomic.Uint64

// newPortID returns an id no other port of this host holds: the process id
// plus a timestamp that strictly increases within the process.
func newPortID() protocol.PortID {
	for {
		last := lastPortValue.Load()
		next := uint64(time.Now().UnixNano())
		if next <= last {
			next = last + 1
		}
		if lastPortValue.CompareAndSwap(last, next) {
			return protocol.PortID{Value: next, Pid: uint32(os.Getpid())}
		}
	}
}

type portID protocol.PortID

// ProcessID returns the id of the process that created the port.
func (id portID) ProcessID() uint32 { return id.pid().Pid }

// Counter returns the per-process part of the id.
func (id portID) Counter() uint64 { return id.pid().Value }

func (id portID) String() string { return id.pid().String() }

func (id portID) pid() protocol.PortID { return protocol.PortID(id) }

// UniquePublisherID identifies a publisher.
type UniquePublisherID struct{ portID }

// UniqueSubscriberID identifies a subscriber.
type UniqueSubscriberID struct{ portID }

// UniqueNotifierID identifies a notifier.
type UniqueNotifierID struct{ portID }

// UniqueListenerID identifies a listener.
type UniqueListenerID struct{ portID }

func newPublisherID() UniquePublisherID   { return UniquePublisherID{portID(newPortID())} }
func newSubscriberID() UniqueSubscriberID { return UniqueSubscriberID{portID(newPortID())} }
func newNotifierID() UniqueNotifierID     { return UniqueNotifierID{portID(newPortID())} }
func newListenerID() UniqueListenerID     { return UniqueListenerID{portID(newPortID())} }
