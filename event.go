package zcipc

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"gosuda.org/zcipc/internal/adaptivewait"
	"gosuda.org/zcipc/internal/logging"
	"gosuda.org/zcipc/internal/metrics"
	"gosuda.org/zcipc/internal/mpmc"
	"gosuda.org/zcipc/internal/protocol"
	"gosuda.org/zcipc/internal/registry"
	"gosuda.org/zcipc/internal/shm"
)

// EventID is the value a notifier signals.
type EventID uint64

// EventBuilder configures an event service.
type EventBuilder struct {
	base *ServiceBuilder
	cfg  EventConfig

	verifyNotifiers bool
	verifyListeners bool
}

// Event starts configuring an event service.
func (b *ServiceBuilder) Event() *EventBuilder {
	d := b.opts.config.Defaults.Event
	return &EventBuilder{
		base: b,
		cfg:  EventConfig{MaxNotifiers: d.MaxNotifiers, MaxListeners: d.MaxListeners},
	}
}

func (b *EventBuilder) MaxNotifiers(n uint64) *EventBuilder {
	b.cfg.MaxNotifiers = n
	b.verifyNotifiers = true
	return b
}

func (b *EventBuilder) MaxListeners(n uint64) *EventBuilder {
	b.cfg.MaxListeners = n
	b.verifyListeners = true
	return b
}

// Open attaches to an existing service.
func (b *EventBuilder) Open() (*PortFactoryEvent, error) {
	return b.factory(b.base.open(b.request()))
}

// Create creates the service. It fails if the service exists.
func (b *EventBuilder) Create() (*PortFactoryEvent, error) {
	return b.factory(b.base.create(b.request()))
}

// OpenOrCreate opens the service, creating it if nobody did yet.
func (b *EventBuilder) OpenOrCreate() (*PortFactoryEvent, error) {
	return b.factory(b.base.openOrCreate(b.request()))
}

func (b *EventBuilder) factory(s *service, err error) (*PortFactoryEvent, error) {
	if err != nil {
		return nil, err
	}
	return &PortFactoryEvent{svc: s}, nil
}

func (b *EventBuilder) request() serviceRequest {
	return serviceRequest{pattern: Event, static: b.static, verify: b.verify}
}

func (b *EventBuilder) static() (*StaticConfig, error) {
	cfg := b.cfg
	if cfg.MaxNotifiers == 0 {
		b.base.opts.logger.Info("setting must be at least 1, raising it", "setting", "max_notifiers", "service", string(b.base.name))
		cfg.MaxNotifiers = 1
	}
	if cfg.MaxListeners == 0 {
		b.base.opts.logger.Info("setting must be at least 1, raising it", "setting", "max_listeners", "service", string(b.base.name))
		cfg.MaxListeners = 1
	}
	return &StaticConfig{MessagingPattern: MessagingPatternConfig{Event: &cfg}}, nil
}

func (b *EventBuilder) verify(existing *StaticConfig) error {
	ev := existing.MessagingPattern.Event
	if b.verifyNotifiers && ev.MaxNotifiers < b.cfg.MaxNotifiers {
		return fmt.Errorf("%w: %d < %d", ErrOpenDoesNotSupportRequestedAmountOfNotifiers, ev.MaxNotifiers, b.cfg.MaxNotifiers)
	}
	if b.verifyListeners && ev.MaxListeners < b.cfg.MaxListeners {
		return fmt.Errorf("%w: %d < %d", ErrOpenDoesNotSupportRequestedAmountOfListeners, ev.MaxListeners, b.cfg.MaxListeners)
	}
	return nil
}

// PortFactoryEvent creates the notifiers and listeners of an event service.
type PortFactoryEvent struct {
	svc    *service
	closed atomic.Bool
}

// Name returns the service name.
func (f *PortFactoryEvent) Name() ServiceName { return f.svc.builder.name }

// UUID returns the service uuid.
func (f *PortFactoryEvent) UUID() string { return f.svc.builder.uuid }

// StaticConfig returns the settings the service was created with.
func (f *PortFactoryEvent) StaticConfig() EventConfig {
	return *f.svc.static.MessagingPattern.Event
}

func (f *PortFactoryEvent) NumberOfNotifiers() uint64 { return f.svc.registries[0].Len() }
func (f *PortFactoryEvent) NumberOfListeners() uint64 { return f.svc.registries[1].Len() }

// Notifier starts configuring a notifier.
func (f *PortFactoryEvent) Notifier() *NotifierBuilder {
	return &NotifierBuilder{factory: f}
}

// Listener starts configuring a listener.
func (f *PortFactoryEvent) Listener() *ListenerBuilder {
	return &ListenerBuilder{factory: f}
}

// Close drops the factory's reference on the service.
func (f *PortFactoryEvent) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	return f.svc.release()
}

// Event Channel Memory Layout:
//
// <<<< base
// PREAMBLE    (64 bytes)
// RING                    // event ids
// <<<< end

func eventChannelName(svc *service, listener UniqueListenerID) string {
	return listener.String() + svc.opts().config.Global.EventChannelSuffix
}

// NotifierBuilder configures a notifier.
type NotifierBuilder struct {
	factory   *PortFactoryEvent
	defaultID EventID
}

// DefaultEventID is the id Notify sends.
func (b *NotifierBuilder) DefaultEventID(id EventID) *NotifierBuilder {
	b.defaultID = id
	return b
}

// Create registers a new notifier.
func (b *NotifierBuilder) Create() (*Notifier, error) {
	svc := b.factory.svc
	id := newNotifierID()
	token, ok := svc.registries[0].Add(id.pid())
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrExceedsMaxSupportedNotifiers, svc.static.MessagingPattern.Event.MaxNotifiers)
	}
	svc.acquire()

	n := &Notifier{
		svc:       svc,
		id:        id,
		defaultID: b.defaultID,
		logger:    svc.logger.WithValues("notifier", id.String()),
		listeners: svc.registries[1].Snapshot(),
		channels:  make([]*listenerChannel, svc.registries[1].Capacity()),
		token:     token,
	}
	n.updateConnections()
	return n, nil
}

type listenerChannel struct {
	id   UniqueListenerID
	mem  *shm.SharedMemory
	ring *mpmc.Ring[uint64]
}

// Notifier signals every listener of the service. A Notifier is not safe for
// concurrent use.
type Notifier struct {
	svc       *service
	id        UniqueNotifierID
	defaultID EventID
	logger    logr.Logger

	listeners *registry.Snapshot
	channels  []*listenerChannel // by listener registry index
	token     *registry.UniqueSlotToken
	closed    bool
}

// ID returns the id of the notifier.
func (n *Notifier) ID() UniqueNotifierID { return n.id }

// Notify sends the default event id and returns the number of listeners
// that got it.
func (n *Notifier) Notify() int {
	return n.NotifyWithCustomEventID(n.defaultID)
}

// NotifyWithCustomEventID sends id and returns the number of listeners that
// got it. A listener whose channel is full misses the event.
func (n *Notifier) NotifyWithCustomEventID(id EventID) int {
	n.updateConnections()

	count := 0
	for _, c := range n.channels {
		if c == nil {
			continue
		}
		if !c.ring.TryEnqueue(uint64(id)) {
			n.logger.Info("event channel full, event dropped", "listener", c.id.String(), "event", uint64(id))
			continue
		}
		count++
	}
	return count
}

func (n *Notifier) updateConnections() {
	if !n.listeners.Update() {
		return
	}

	visible := make([]bool, len(n.channels))
	timeout := n.svc.opts().config.Global.CreationTimeout.Std()
	n.listeners.ForEach(func(index uint32, raw protocol.PortID) {
		visible[index] = true
		id := UniqueListenerID{portID(raw)}
		if c := n.channels[index]; c != nil {
			if c.id == id {
				return
			}
			n.closeChannel(index)
		}

		mem, err := n.svc.res.shm.Open(eventChannelName(n.svc, id))
		if err != nil {
			n.logger.Info("unable to open event channel", "listener", id.String(), "error", err.Error())
			return
		}
		if err := protocol.PreambleAt(mem.Base()).Wait(protocol.KindEventChannel, timeout); err != nil {
			n.logger.Info("event channel not ready", "listener", id.String(), "error", err.Error())
			mem.Close()
			return
		}
		ring := mpmc.Attach[uint64](mem.Base()+protocol.PreambleSize, timeout)
		if ring == nil {
			n.logger.Info("event channel ring not initialized", "listener", id.String())
			mem.Close()
			return
		}
		n.channels[index] = &listenerChannel{id: id, mem: mem, ring: ring}
	})

	for i, c := range n.channels {
		if c != nil && !visible[i] {
			n.closeChannel(uint32(i))
		}
	}
}

func (n *Notifier) closeChannel(index uint32) {
	c := n.channels[index]
	n.channels[index] = nil
	if err := c.mem.Close(); err != nil {
		n.logger.Error(err, "unable to unmap event channel", "listener", c.id.String())
	}
}

// Close unregisters the notifier.
func (n *Notifier) Close() error {
	if n.closed {
		return nil
	}
	n.closed = true
	n.token.Release()
	for i, c := range n.channels {
		if c != nil {
			n.closeChannel(uint32(i))
		}
	}
	return n.svc.release()
}

// ListenerBuilder configures a listener.
type ListenerBuilder struct {
	factory *PortFactoryEvent
}

// Create registers a new listener with its own event channel.
func (b *ListenerBuilder) Create() (*Listener, error) {
	svc := b.factory.svc
	id := newListenerID()
	capacity := svc.opts().config.Defaults.Event.EventChannelBuffer
	if capacity == 0 {
		capacity = 1
	}

	mem, err := svc.res.shm.Create(eventChannelName(svc, id), int(protocol.PreambleSize+mpmc.Size[uint64](capacity)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListenerResourceCreationFailed, err)
	}
	mpmc.Init[uint64](mem.Base()+protocol.PreambleSize, capacity)
	protocol.PreambleAt(mem.Base()).Publish(protocol.KindEventChannel)

	// the channel exists before the listener becomes visible
	token, ok := svc.registries[1].Add(id.pid())
	if !ok {
		return nil, multierr.Append(
			fmt.Errorf("%w: %d", ErrExceedsMaxSupportedListeners, svc.static.MessagingPattern.Event.MaxListeners),
			mem.Close())
	}
	svc.acquire()

	return &Listener{
		svc:    svc,
		id:     id,
		logger: svc.logger.WithValues("listener", id.String()),
		mem:    mem,
		ring:   mpmc.Attach[uint64](mem.Base()+protocol.PreambleSize, 0),
		token:  token,
	}, nil
}

// Listener receives the events of every notifier of the service. A Listener
// is not safe for concurrent use.
type Listener struct {
	svc    *service
	id     UniqueListenerID
	logger logr.Logger

	mem    *shm.SharedMemory
	ring   *mpmc.Ring[uint64]
	token  *registry.UniqueSlotToken
	closed bool
}

// ID returns the id of the listener.
func (l *Listener) ID() UniqueListenerID { return l.id }

// TryWait passes every pending event to fn until fn returns false, without
// blocking. It returns the number of events passed.
func (l *Listener) TryWait(fn func(EventID) bool) int {
	n := 0
	for {
		v, ok := l.ring.TryDequeue()
		if !ok {
			break
		}
		n++
		if !fn(EventID(v)) {
			break
		}
	}
	if n > 0 {
		metrics.RecordEvents(l.svc.name(), n)
		l.logger.V(logging.TRACE).Info("received events", "count", n)
	}
	return n
}

// TimedWait is TryWait that waits up to timeout for the first event.
func (l *Listener) TimedWait(fn func(EventID) bool, timeout time.Duration) int {
	n := 0
	adaptivewait.Until(l.svc.opts().clock, timeout, func() bool {
		n = l.TryWait(fn)
		return n > 0
	})
	return n
}

// BlockingWait is TryWait that waits for the first event until ctx is done.
func (l *Listener) BlockingWait(ctx context.Context, fn func(EventID) bool) (int, error) {
	w := adaptivewait.New(l.svc.opts().clock)
	for {
		if n := l.TryWait(fn); n > 0 {
			return n, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		w.Wait()
	}
}

// Close unregisters the listener and removes its event channel.
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.token.Release()
	return multierr.Append(l.mem.Close(), l.svc.release())
}
