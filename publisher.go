package zcipc

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"gosuda.org/zcipc/config"
	"gosuda.org/zcipc/internal/logging"
	"gosuda.org/zcipc/internal/metrics"
	"gosuda.org/zcipc/internal/pool"
	"gosuda.org/zcipc/internal/protocol"
	"gosuda.org/zcipc/internal/registry"
	"gosuda.org/zcipc/internal/zerocopy"
)

func connectionBuilder(svc *service, publisher UniquePublisherID, subscriber UniqueSubscriberID) zerocopy.Builder {
	g := svc.opts().config.Global
	ps := svc.static.MessagingPattern.PublishSubscribe
	return zerocopy.Builder{
		Provider:           svc.res.shm,
		Name:               publisher.String() + "_" + subscriber.String() + g.ConnectionSuffix,
		BufferSize:         ps.SubscriberBufferSize,
		MaxBorrowedSamples: ps.SubscriberMaxBorrowedSamples,
		EnableSafeOverflow: ps.EnableSafeOverflow,
		Timeout:            g.CreationTimeout.Std(),
	}
}

// subscriberConnection is the sending end towards one subscriber.
type subscriberConnection struct {
	id     UniqueSubscriberID
	sender *zerocopy.Sender

	// offsets queued, borrowed or awaiting reclaim; each holds one reference
	inFlight map[pool.PointerOffset]struct{}
}

// Publisher loans chunks of its data segment and hands them to every
// subscriber of the service. A Publisher is not safe for concurrent use.
type Publisher[T any] struct {
	svc    *service
	id     UniquePublisherID
	config PublishSubscribeConfig
	logger logr.Logger

	segment   *dataSegment
	refs      []atomic.Int64 // per chunk
	loaned    uint64
	maxLoaned uint64
	history   []pool.PointerOffset // oldest first

	strategy config.UnableToDeliverStrategy
	policy   DegradationPolicy

	subscribers *registry.Snapshot
	connections []*subscriberConnection // by subscriber registry index
	token       *registry.UniqueSlotToken
	closed      bool
}

func newPublisher[T any](svc *service, maxLoaned uint64, strategy config.UnableToDeliverStrategy, policy DegradationPolicy) (*Publisher[T], error) {
	cfg := *svc.static.MessagingPattern.PublishSubscribe
	id := newPublisherID()
	logger := svc.logger.WithValues("publisher", id.String())

	layout := chunkLayoutOf(typeDetailsOf[T]())
	chunks := numberOfChunks(&cfg, maxLoaned)
	segment, err := createDataSegment(svc.res.shm, segmentName(id, svc.opts().config.Global.PublisherDataSegmentSuffix), layout, chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnableToCreateDataSegment, err)
	}

	p := &Publisher[T]{
		svc:         svc,
		id:          id,
		config:      cfg,
		logger:      logger,
		segment:     segment,
		refs:        make([]atomic.Int64, chunks),
		maxLoaned:   maxLoaned,
		history:     make([]pool.PointerOffset, 0, cfg.HistorySize),
		strategy:    strategy,
		policy:      policy,
		subscribers: svc.registries[1].Snapshot(),
		connections: make([]*subscriberConnection, svc.registries[1].Capacity()),
	}

	// registering makes the publisher visible, so it comes last
	token, ok := svc.registries[0].Add(id.pid())
	if !ok {
		return nil, multierr.Append(
			fmt.Errorf("%w: %d", ErrExceedsMaxSupportedPublishers, cfg.MaxPublishers),
			segment.close())
	}
	p.token = token
	svc.acquire()

	if err := p.UpdateConnections(); err != nil {
		logger.Info("unable to connect to every subscriber", "error", err.Error())
	}
	logger.V(logging.DEBUG).Info("created publisher", "chunks", chunks, "chunkSize", layout.chunkSize)
	return p, nil
}

// ID returns the id of the publisher.
func (p *Publisher[T]) ID() UniquePublisherID { return p.id }

// NumberOfSubscribers returns the number of connected subscribers.
func (p *Publisher[T]) NumberOfSubscribers() int {
	n := 0
	for _, c := range p.connections {
		if c != nil {
			n++
		}
	}
	return n
}

// Loan hands out an uninitialized sample. It must be sent or discarded.
func (p *Publisher[T]) Loan() (*SampleMut[T], error) {
	p.RetrieveReturnedSamples()

	if p.loaned >= p.maxLoaned {
		return nil, fmt.Errorf("%w: %d", ErrExceedsMaxLoanedChunks, p.maxLoaned)
	}

	offset, ok := p.segment.alloc.Allocate()
	if !ok {
		return nil, fmt.Errorf("%w: %d chunks in use", ErrLoanOutOfMemory, p.segment.alloc.Used())
	}
	index, err := p.segment.alloc.Index(offset)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("%w: %v", ErrLoanInternalFailure, err), p.segment.alloc.Deallocate(offset))
	}
	if old := p.refs[index].Swap(1); old != 0 {
		logging.Panic(p.logger, "freshly allocated chunk %d of publisher %s has reference count %d instead of 0", index, p.id, old)
	}
	p.loaned++

	header := p.segment.header(offset)
	writeHeader(header, p.id, p.svc.opts().clock.Now())
	return &SampleMut[T]{
		publisher: p,
		offset:    offset,
		header:    header,
		payload:   (*T)(p.segment.payload(offset)),
	}, nil
}

// Send delivers sample to every connected subscriber and returns the number
// of subscribers that received it. The sample is consumed in every case.
func (p *Publisher[T]) Send(sample *SampleMut[T]) (int, error) {
	if sample == nil || sample.publisher != p || sample.done {
		return 0, ErrSendInvalidSample
	}
	sample.done = true
	offset := sample.offset
	defer p.returnLoan(offset)

	if err := p.UpdateConnections(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSendConnectionError, err)
	}

	p.pushHistory(offset)
	n := p.deliver(offset)
	metrics.RecordSamplesSent(p.svc.name(), n)
	return n, nil
}

// SendCopy loans a sample, writes v into it and sends it.
func (p *Publisher[T]) SendCopy(v T) (int, error) {
	sample, err := p.Loan()
	if err != nil {
		return 0, err
	}
	*sample.payload = v
	return p.Send(sample)
}

func (p *Publisher[T]) pushHistory(offset pool.PointerOffset) {
	if p.config.HistorySize == 0 {
		return
	}
	if uint64(len(p.history)) == p.config.HistorySize {
		oldest := p.history[0]
		copy(p.history, p.history[1:])
		p.history = p.history[:len(p.history)-1]
		p.releaseChunk(oldest)
	}
	p.acquireChunk(offset)
	p.history = append(p.history, offset)
}

func (p *Publisher[T]) deliver(offset pool.PointerOffset) int {
	n := 0
	for _, c := range p.connections {
		if c == nil {
			continue
		}

		var (
			evicted    pool.PointerOffset
			hasEvicted bool
			err        error
		)
		if p.strategy == config.Block {
			evicted, hasEvicted, err = c.sender.BlockingSend(offset)
		} else {
			evicted, hasEvicted, err = c.sender.TrySend(offset)
		}

		switch {
		case errors.Is(err, zerocopy.ErrReceiveBufferFull):
			metrics.RecordDeliveryFailure(p.svc.name(), "buffer_full")
			p.logger.V(logging.TRACE).Info("subscriber buffer full, sample dropped", "subscriber", c.id.String())
			continue
		case errors.Is(err, zerocopy.ErrClearRetrieveChannelBeforeSend):
			metrics.RecordDeliveryFailure(p.svc.name(), "retrieve_channel_full")
			p.logger.Info("subscriber holds too many samples, sample dropped", "subscriber", c.id.String())
			continue
		case err != nil:
			metrics.RecordDeliveryFailure(p.svc.name(), "internal")
			p.logger.Error(err, "unable to deliver sample", "subscriber", c.id.String())
			continue
		}

		p.acquireChunk(offset)
		c.inFlight[offset] = struct{}{}
		n++
		if hasEvicted {
			p.forget(c, evicted)
		}
	}
	return n
}

// UpdateConnections connects to subscribers that appeared since the last
// call and drops the connections of subscribers that left.
func (p *Publisher[T]) UpdateConnections() error {
	if !p.subscribers.Update() {
		return nil
	}

	var errs error
	visible := make([]bool, len(p.connections))
	p.subscribers.ForEach(func(index uint32, raw protocol.PortID) {
		visible[index] = true
		id := UniqueSubscriberID{portID(raw)}
		if c := p.connections[index]; c != nil {
			if c.id == id {
				return
			}
			errs = multierr.Append(errs, p.removeConnection(index))
		}

		sender, err := connectionBuilder(p.svc, p.id, id).CreateSender()
		if err != nil {
			metrics.RecordDeliveryFailure(p.svc.name(), "connection")
			switch p.policy.Decide(p.svc.static, p.id, id) {
			case DegradationWarn:
				p.logger.Info("unable to connect to subscriber, skipping it", "subscriber", id.String(), "error", err.Error())
			case DegradationFail:
				errs = multierr.Append(errs, fmt.Errorf("%w: subscriber %s: %v", ErrFailedToEstablishConnection, id, err))
			}
			return
		}

		c := &subscriberConnection{id: id, sender: sender, inFlight: make(map[pool.PointerOffset]struct{})}
		p.connections[index] = c
		p.replayHistory(c)
		p.logger.V(logging.DEBUG).Info("connected to subscriber", "subscriber", id.String())
	})

	for i, c := range p.connections {
		if c != nil && !visible[i] {
			errs = multierr.Append(errs, p.removeConnection(uint32(i)))
		}
	}
	return errs
}

func (p *Publisher[T]) replayHistory(c *subscriberConnection) {
	for _, offset := range p.history {
		evicted, hasEvicted, err := c.sender.TrySend(offset)
		if err != nil {
			p.logger.V(logging.DEBUG).Info("history replay stopped", "subscriber", c.id.String(), "error", err.Error())
			return
		}
		p.acquireChunk(offset)
		c.inFlight[offset] = struct{}{}
		if hasEvicted {
			p.forget(c, evicted)
		}
	}
}

func (p *Publisher[T]) removeConnection(index uint32) error {
	c := p.connections[index]
	p.connections[index] = nil
	for offset := range c.inFlight {
		p.releaseChunk(offset)
	}
	p.logger.V(logging.DEBUG).Info("disconnected from subscriber", "subscriber", c.id.String())
	return c.sender.Close()
}

// RetrieveReturnedSamples takes back every sample subscribers released.
func (p *Publisher[T]) RetrieveReturnedSamples() {
	for _, c := range p.connections {
		if c == nil {
			continue
		}
		for {
			offset, ok := c.sender.Reclaim()
			if !ok {
				break
			}
			p.forget(c, offset)
		}
	}
}

// forget drops the reference a connection held on offset.
func (p *Publisher[T]) forget(c *subscriberConnection, offset pool.PointerOffset) {
	if _, ok := c.inFlight[offset]; !ok {
		p.logger.Info("subscriber returned a sample it never received, ignoring it", "subscriber", c.id.String(), "offset", offset)
		return
	}
	delete(c.inFlight, offset)
	p.releaseChunk(offset)
}

func (p *Publisher[T]) acquireChunk(offset pool.PointerOffset) {
	p.refs[p.chunkIndex(offset)].Add(1)
}

// releaseChunk drops one reference; the last one returns the chunk to the pool.
func (p *Publisher[T]) releaseChunk(offset pool.PointerOffset) {
	index := p.chunkIndex(offset)
	switch n := p.refs[index].Add(-1); {
	case n == 0:
		if err := p.segment.alloc.Deallocate(offset); err != nil {
			logging.Panic(p.logger, "chunk %d of publisher %s reached reference count 0 but could not be freed: %v", index, p.id, err)
		}
	case n < 0:
		logging.Panic(p.logger, "reference count of chunk %d of publisher %s dropped below zero", index, p.id)
	}
}

func (p *Publisher[T]) chunkIndex(offset pool.PointerOffset) uint32 {
	index, err := p.segment.alloc.Index(offset)
	if err != nil {
		logging.Panic(p.logger, "publisher %s tracks an offset outside its data segment: %v", p.id, err)
	}
	return index
}

func (p *Publisher[T]) returnLoan(offset pool.PointerOffset) {
	p.releaseChunk(offset)
	p.loaned--
}

// Close unregisters the publisher, drops its connections and history and
// removes its data segment. Loaned samples must not be used afterwards.
func (p *Publisher[T]) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.token.Release()

	var err error
	for i, c := range p.connections {
		if c != nil {
			err = multierr.Append(err, p.removeConnection(uint32(i)))
		}
	}
	for _, offset := range p.history {
		p.releaseChunk(offset)
	}
	p.history = nil

	err = multierr.Append(err, p.segment.close())
	err = multierr.Append(err, p.svc.release())
	p.logger.V(logging.DEBUG).Info("closed publisher")
	return err
}

// SampleMut is a loaned sample. Send or Discard it exactly once.
type SampleMut[T any] struct {
	publisher *Publisher[T]
	offset    pool.PointerOffset
	header    *protocol.ChunkHeader
	payload   *T
	done      bool
}

// Payload returns the payload in shared memory.
func (s *SampleMut[T]) Payload() *T { return s.payload }

// Header returns the sample header.
func (s *SampleMut[T]) Header() Header { return Header{s.header} }

// Write stores v as the payload.
func (s *SampleMut[T]) Write(v T) *SampleMut[T] {
	*s.payload = v
	return s
}

// Send is shorthand for Publisher.Send.
func (s *SampleMut[T]) Send() (int, error) {
	return s.publisher.Send(s)
}

// Discard returns the chunk without sending it.
func (s *SampleMut[T]) Discard() {
	if s.done {
		return
	}
	s.done = true
	s.publisher.returnLoan(s.offset)
}
