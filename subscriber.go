package zcipc

import (
	"fmt"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"gosuda.org/zcipc/internal/logging"
	"gosuda.org/zcipc/internal/metrics"
	"gosuda.org/zcipc/internal/pool"
	"gosuda.org/zcipc/internal/protocol"
	"gosuda.org/zcipc/internal/registry"
	"gosuda.org/zcipc/internal/zerocopy"
)

// publisherConnection is the receiving end from one publisher together with
// this process's mapping of the publisher's data segment.
type publisherConnection struct {
	id       UniquePublisherID
	receiver *zerocopy.Receiver
	segment  *dataSegment
	logger   logr.Logger
	held     int // samples handed out and not yet released
	closed   bool
}

// close drops the connection. The data segment stays mapped until the last
// held sample is released.
func (c *publisherConnection) close() error {
	c.closed = true
	err := c.receiver.Close()
	if c.held == 0 {
		err = multierr.Append(err, c.unmap())
	}
	return err
}

func (c *publisherConnection) unmap() error {
	segment := c.segment
	if segment == nil {
		return nil
	}
	c.segment = nil
	return segment.close()
}

// releaseSample accounts for a sample given back by the user.
func (c *publisherConnection) releaseSample(offset pool.PointerOffset) {
	c.held--
	if c.closed {
		if c.held == 0 {
			if err := c.unmap(); err != nil {
				c.logger.Error(err, "unable to unmap data segment", "publisher", c.id.String())
			}
		}
		return
	}
	if err := c.receiver.Release(offset); err != nil {
		c.logger.Error(err, "unable to return sample", "publisher", c.id.String(), "offset", offset)
	}
}

// Subscriber receives the samples of every publisher of the service. A
// Subscriber is not safe for concurrent use.
type Subscriber[T any] struct {
	svc    *service
	id     UniqueSubscriberID
	logger logr.Logger
	layout chunkLayout

	publishers  *registry.Snapshot
	connections []*publisherConnection // by publisher registry index
	token       *registry.UniqueSlotToken
	closed      bool
}

func newSubscriber[T any](svc *service) (*Subscriber[T], error) {
	id := newSubscriberID()
	token, ok := svc.registries[1].Add(id.pid())
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrExceedsMaxSupportedSubscribers, svc.static.MessagingPattern.PublishSubscribe.MaxSubscribers)
	}
	svc.acquire()

	s := &Subscriber[T]{
		svc:         svc,
		id:          id,
		logger:      svc.logger.WithValues("subscriber", id.String()),
		layout:      chunkLayoutOf(typeDetailsOf[T]()),
		publishers:  svc.registries[0].Snapshot(),
		connections: make([]*publisherConnection, svc.registries[0].Capacity()),
		token:       token,
	}
	if err := s.UpdateConnections(); err != nil {
		s.logger.Info("unable to connect to every publisher", "error", err.Error())
	}
	s.logger.V(logging.DEBUG).Info("created subscriber")
	return s, nil
}

// ID returns the id of the subscriber.
func (s *Subscriber[T]) ID() UniqueSubscriberID { return s.id }

// NumberOfPublishers returns the number of connected publishers.
func (s *Subscriber[T]) NumberOfPublishers() int {
	n := 0
	for _, c := range s.connections {
		if c != nil {
			n++
		}
	}
	return n
}

// UpdateConnections connects to publishers that appeared since the last call
// and drops the connections of publishers that left.
func (s *Subscriber[T]) UpdateConnections() error {
	if !s.publishers.Update() {
		return nil
	}

	var errs error
	visible := make([]bool, len(s.connections))
	s.publishers.ForEach(func(index uint32, raw protocol.PortID) {
		visible[index] = true
		id := UniquePublisherID{portID(raw)}
		if c := s.connections[index]; c != nil {
			if c.id == id {
				return
			}
			errs = multierr.Append(errs, s.removeConnection(index))
		}

		c, err := s.connect(id)
		if err != nil {
			errs = multierr.Append(errs, err)
			return
		}
		s.connections[index] = c
		s.logger.V(logging.DEBUG).Info("connected to publisher", "publisher", id.String())
	})

	for i, c := range s.connections {
		if c != nil && !visible[i] {
			errs = multierr.Append(errs, s.removeConnection(uint32(i)))
		}
	}
	return errs
}

func (s *Subscriber[T]) connect(publisher UniquePublisherID) (*publisherConnection, error) {
	g := s.svc.opts().config.Global
	segment, err := openDataSegment(s.svc.res.shm, segmentName(publisher, g.PublisherDataSegmentSuffix), s.layout, g.CreationTimeout.Std())
	if err != nil {
		return nil, fmt.Errorf("%w: publisher %s: %v", ErrUnableToMapPublishersDataSegment, publisher, err)
	}
	receiver, err := connectionBuilder(s.svc, publisher, s.id).CreateReceiver()
	if err != nil {
		return nil, multierr.Append(
			fmt.Errorf("%w: publisher %s: %v", ErrFailedToEstablishConnection, publisher, err),
			segment.close())
	}
	return &publisherConnection{
		id:       publisher,
		receiver: receiver,
		segment:  segment,
		logger:   s.logger,
	}, nil
}

func (s *Subscriber[T]) removeConnection(index uint32) error {
	c := s.connections[index]
	s.connections[index] = nil
	s.logger.V(logging.DEBUG).Info("disconnected from publisher", "publisher", c.id.String())
	return c.close()
}

// Receive returns the oldest sample of the first publisher that has one,
// or nil when no publisher has.
func (s *Subscriber[T]) Receive() (*Sample[T], error) {
	if err := s.UpdateConnections(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReceiveConnectionFailure, err)
	}

	for _, c := range s.connections {
		if c == nil {
			continue
		}
		offset, ok, err := c.receiver.Receive()
		if err != nil {
			return nil, fmt.Errorf("%w: publisher %s holds %d", ErrReceiveWouldExceedMaxBorrowValue, c.id, c.receiver.Borrowed())
		}
		if !ok {
			continue
		}
		if _, err := c.segment.alloc.Index(offset); err != nil {
			return nil, multierr.Append(fmt.Errorf("%w: %v", ErrReceiveConnectionFailure, err), c.receiver.Release(offset))
		}

		c.held++
		metrics.RecordSampleReceived(s.svc.name())
		return &Sample[T]{
			conn:    c,
			offset:  offset,
			header:  c.segment.header(offset),
			payload: (*T)(c.segment.payload(offset)),
		}, nil
	}
	return nil, nil
}

// Close unregisters the subscriber and drops its connections. Data segments
// of samples still held stay mapped until those samples are released.
func (s *Subscriber[T]) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.token.Release()

	var err error
	for i, c := range s.connections {
		if c != nil {
			err = multierr.Append(err, s.removeConnection(uint32(i)))
		}
	}
	err = multierr.Append(err, s.svc.release())
	s.logger.V(logging.DEBUG).Info("closed subscriber")
	return err
}

// Sample is a received sample. Release it once it is no longer needed.
type Sample[T any] struct {
	conn     *publisherConnection
	offset   pool.PointerOffset
	header   *protocol.ChunkHeader
	payload  *T
	released bool
}

// Payload returns the payload in shared memory. It must not be modified.
func (s *Sample[T]) Payload() *T { return s.payload }

// Header returns the sample header.
func (s *Sample[T]) Header() Header { return Header{s.header} }

// Release returns the sample to its publisher. Releasing twice does nothing.
// A sample stays readable until released even when its publisher left.
func (s *Sample[T]) Release() {
	if s.released {
		return
	}
	s.released = true
	s.conn.releaseSample(s.offset)
}
