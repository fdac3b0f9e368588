package zcipc

import (
	"fmt"
	"sync/atomic"

	"gosuda.org/zcipc/config"
)

// PubSubBuilder configures a publish-subscribe service carrying T.
type PubSubBuilder[T any] struct {
	base *ServiceBuilder
	cfg  PublishSubscribeConfig

	// settings the caller asked for explicitly, verified on open
	verifyPublishers  bool
	verifySubscribers bool
}

// PubSub starts configuring a publish-subscribe service. T must not contain
// pointers, slices, maps, strings or other references into process memory.
func PubSub[T any](b *ServiceBuilder) *PubSubBuilder[T] {
	d := b.opts.config.Defaults.PublishSubscribe
	return &PubSubBuilder[T]{
		base: b,
		cfg: PublishSubscribeConfig{
			MaxSubscribers:               d.MaxSubscribers,
			MaxPublishers:                d.MaxPublishers,
			HistorySize:                  d.PublisherHistorySize,
			SubscriberBufferSize:         d.SubscriberBufferSize,
			SubscriberMaxBorrowedSamples: d.SubscriberMaxBorrowedSamples,
			EnableSafeOverflow:           d.EnableSafeOverflow,
		},
	}
}

func (b *PubSubBuilder[T]) MaxPublishers(n uint64) *PubSubBuilder[T] {
	b.cfg.MaxPublishers = n
	b.verifyPublishers = true
	return b
}

func (b *PubSubBuilder[T]) MaxSubscribers(n uint64) *PubSubBuilder[T] {
	b.cfg.MaxSubscribers = n
	b.verifySubscribers = true
	return b
}

// HistorySize is the number of samples replayed to a new subscriber.
func (b *PubSubBuilder[T]) HistorySize(n uint64) *PubSubBuilder[T] {
	b.cfg.HistorySize = n
	return b
}

// SubscriberBufferSize is the number of samples queued per subscriber.
func (b *PubSubBuilder[T]) SubscriberBufferSize(n uint64) *PubSubBuilder[T] {
	b.cfg.SubscriberBufferSize = n
	return b
}

// SubscriberMaxBorrowedSamples is the number of samples a subscriber may
// hold without releasing them.
func (b *PubSubBuilder[T]) SubscriberMaxBorrowedSamples(n uint64) *PubSubBuilder[T] {
	b.cfg.SubscriberMaxBorrowedSamples = n
	return b
}

// EnableSafeOverflow makes a full subscriber buffer drop its oldest sample
// instead of refusing the new one.
func (b *PubSubBuilder[T]) EnableSafeOverflow(enable bool) *PubSubBuilder[T] {
	b.cfg.EnableSafeOverflow = enable
	return b
}

// Open attaches to an existing service.
func (b *PubSubBuilder[T]) Open() (*PortFactoryPubSub[T], error) {
	return b.factory(b.base.open(b.request()))
}

// Create creates the service. It fails if the service exists.
func (b *PubSubBuilder[T]) Create() (*PortFactoryPubSub[T], error) {
	return b.factory(b.base.create(b.request()))
}

// OpenOrCreate opens the service, creating it if nobody did yet.
func (b *PubSubBuilder[T]) OpenOrCreate() (*PortFactoryPubSub[T], error) {
	return b.factory(b.base.openOrCreate(b.request()))
}

func (b *PubSubBuilder[T]) factory(s *service, err error) (*PortFactoryPubSub[T], error) {
	if err != nil {
		return nil, err
	}
	return &PortFactoryPubSub[T]{svc: s}, nil
}

func (b *PubSubBuilder[T]) request() serviceRequest {
	return serviceRequest{
		pattern: PublishSubscribe,
		static:  b.static,
		verify:  b.verify,
	}
}

// static normalizes the requested settings into the config written by create.
func (b *PubSubBuilder[T]) static() (*StaticConfig, error) {
	cfg := b.cfg
	logger := b.base.opts.logger
	for _, v := range []struct {
		name  string
		value *uint64
	}{
		{"max_publishers", &cfg.MaxPublishers},
		{"max_subscribers", &cfg.MaxSubscribers},
		{"subscriber_buffer_size", &cfg.SubscriberBufferSize},
		{"subscriber_max_borrowed_samples", &cfg.SubscriberMaxBorrowedSamples},
	} {
		if *v.value == 0 {
			logger.Info("setting must be at least 1, raising it", "setting", v.name, "service", string(b.base.name))
			*v.value = 1
		}
	}

	if !cfg.EnableSafeOverflow && cfg.HistorySize > cfg.SubscriberBufferSize {
		return nil, fmt.Errorf("%w: history %d, buffer %d",
			ErrCreateSubscriberBufferMustBeLargerThanHistorySize, cfg.HistorySize, cfg.SubscriberBufferSize)
	}

	t := typeDetailsOf[T]()
	cfg.TypeName, cfg.TypeSize, cfg.TypeAlignment = t.name, t.size, t.alignment
	return &StaticConfig{MessagingPattern: MessagingPatternConfig{PublishSubscribe: &cfg}}, nil
}

func (b *PubSubBuilder[T]) verify(existing *StaticConfig) error {
	ps := existing.MessagingPattern.PublishSubscribe
	if t := typeDetailsOf[T](); !t.matches(ps) {
		return fmt.Errorf("%w: service carries %s (size %d, alignment %d), requested %s (size %d, alignment %d)",
			ErrOpenIncompatibleTypes, ps.TypeName, ps.TypeSize, ps.TypeAlignment, t.name, t.size, t.alignment)
	}
	if b.verifyPublishers && ps.MaxPublishers < b.cfg.MaxPublishers {
		return fmt.Errorf("%w: %d < %d", ErrOpenDoesNotSupportRequestedAmountOfPublishers, ps.MaxPublishers, b.cfg.MaxPublishers)
	}
	if b.verifySubscribers && ps.MaxSubscribers < b.cfg.MaxSubscribers {
		return fmt.Errorf("%w: %d < %d", ErrOpenDoesNotSupportRequestedAmountOfSubscribers, ps.MaxSubscribers, b.cfg.MaxSubscribers)
	}
	return nil
}

// PortFactoryPubSub creates the publishers and subscribers of an opened or
// created publish-subscribe service.
type PortFactoryPubSub[T any] struct {
	svc    *service
	closed atomic.Bool
}

// Close drops the factory's reference on the service. Ports created from it
// stay usable; the service is removed when the last reference in any process
// is gone.
func (f *PortFactoryPubSub[T]) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	return f.svc.release()
}

// Name returns the service name.
func (f *PortFactoryPubSub[T]) Name() ServiceName { return f.svc.builder.name }

// UUID returns the service uuid.
func (f *PortFactoryPubSub[T]) UUID() string { return f.svc.builder.uuid }

// StaticConfig returns the settings the service was created with.
func (f *PortFactoryPubSub[T]) StaticConfig() PublishSubscribeConfig {
	return *f.svc.static.MessagingPattern.PublishSubscribe
}

// NumberOfPublishers returns how many publishers are registered across all
// processes.
func (f *PortFactoryPubSub[T]) NumberOfPublishers() uint64 { return f.svc.registries[0].Len() }

// NumberOfSubscribers returns how many subscribers are registered across all
// processes.
func (f *PortFactoryPubSub[T]) NumberOfSubscribers() uint64 { return f.svc.registries[1].Len() }

// Publisher starts configuring a publisher.
func (f *PortFactoryPubSub[T]) Publisher() *PublisherBuilder[T] {
	d := f.svc.opts().config.Defaults.PublishSubscribe
	return &PublisherBuilder[T]{
		factory:   f,
		maxLoaned: d.PublisherMaxLoanedSamples,
		strategy:  d.UnableToDeliverStrategy,
	}
}

// Subscriber starts configuring a subscriber.
func (f *PortFactoryPubSub[T]) Subscriber() *SubscriberBuilder[T] {
	return &SubscriberBuilder[T]{factory: f}
}

// PublisherBuilder configures a publisher.
type PublisherBuilder[T any] struct {
	factory   *PortFactoryPubSub[T]
	maxLoaned uint64
	strategy  config.UnableToDeliverStrategy
	policy    DegradationPolicy
}

// MaxLoanedSamples is how many samples may be loaned and not yet sent.
func (b *PublisherBuilder[T]) MaxLoanedSamples(n uint64) *PublisherBuilder[T] {
	b.maxLoaned = n
	return b
}

// UnableToDeliverStrategy decides what Send does for a full subscriber
// buffer when safe overflow is disabled.
func (b *PublisherBuilder[T]) UnableToDeliverStrategy(s config.UnableToDeliverStrategy) *PublisherBuilder[T] {
	b.strategy = s
	return b
}

// DegradationPolicy decides what happens when a subscriber cannot be
// connected. Without one, failures are skipped silently.
func (b *PublisherBuilder[T]) DegradationPolicy(p DegradationPolicy) *PublisherBuilder[T] {
	b.policy = p
	return b
}

// Create registers a new publisher.
func (b *PublisherBuilder[T]) Create() (*Publisher[T], error) {
	maxLoaned := b.maxLoaned
	if maxLoaned == 0 {
		maxLoaned = 1
	}
	policy := b.policy
	if policy == nil {
		policy = ConstantDegradation(DegradationIgnore)
	}
	return newPublisher[T](b.factory.svc, maxLoaned, b.strategy, policy)
}

// SubscriberBuilder configures a subscriber.
type SubscriberBuilder[T any] struct {
	factory *PortFactoryPubSub[T]
}

// Create registers a new subscriber.
func (b *SubscriberBuilder[T]) Create() (*Subscriber[T], error) {
	return newSubscriber[T](b.factory.svc)
}
