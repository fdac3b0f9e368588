package zcipc

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"gosuda.org/zcipc/internal/adaptivewait"
	"gosuda.org/zcipc/internal/bump"
	"gosuda.org/zcipc/internal/logging"
	"gosuda.org/zcipc/internal/registry"
	"gosuda.org/zcipc/internal/storage"
)

// ServiceBuilder is the entry point for creating or opening a service.
type ServiceBuilder struct {
	name ServiceName
	uuid string
	opts options
}

// NewService starts building the service called name.
func NewService(name ServiceName, opts ...Option) *ServiceBuilder {
	return &ServiceBuilder{
		name: name,
		uuid: serviceUUID(name),
		opts: newOptions(opts),
	}
}

// Name returns the service name.
func (b *ServiceBuilder) Name() ServiceName { return b.name }

// UUID returns the identifier derived from the service name.
func (b *ServiceBuilder) UUID() string { return b.uuid }

func (b *ServiceBuilder) staticName() string {
	return b.uuid + b.opts.config.Global.StaticConfigStorageSuffix
}

func (b *ServiceBuilder) dynamicName() string {
	return b.uuid + b.opts.config.Global.DynamicConfigStorageSuffix
}

type availability uint8

const (
	absent availability = iota
	available
	beingCreated
	corrupted
	incompatiblePattern
	permissionDenied
)

// probe inspects the static storage of the service without waiting.
func (b *ServiceBuilder) probe(res resources, pattern MessagingPattern) (*StaticConfig, availability, error) {
	content, err := res.static.Read(b.staticName())
	switch {
	case errors.Is(err, storage.ErrDoesNotExist):
		return nil, absent, nil
	case errors.Is(err, storage.ErrLocked):
		return nil, beingCreated, nil
	case errors.Is(err, storage.ErrPermissionDenied):
		return nil, permissionDenied, err
	case err != nil:
		return nil, corrupted, err
	}

	cfg, err := decodeStaticConfig(content)
	if err != nil {
		return nil, corrupted, err
	}
	if cfg.UUID != b.uuid {
		return nil, corrupted, fmt.Errorf("zcipc: static config holds uuid %s, expected %s", cfg.UUID, b.uuid)
	}
	if p, _ := cfg.Pattern(); p != pattern {
		return cfg, incompatiblePattern, fmt.Errorf("zcipc: service uses %s, requested %s", p, pattern)
	}
	return cfg, available, nil
}

// serviceRequest is what a pattern builder asks of the service.
type serviceRequest struct {
	pattern MessagingPattern

	// static is the config written by create.
	static func() (*StaticConfig, error)

	// verify checks an existing config during open.
	verify func(existing *StaticConfig) error
}

// capacities returns the sizes of the two port registries of the service.
func capacities(c *StaticConfig) [2]uint64 {
	if ps := c.MessagingPattern.PublishSubscribe; ps != nil {
		return [2]uint64{ps.MaxPublishers, ps.MaxSubscribers}
	}
	ev := c.MessagingPattern.Event
	return [2]uint64{ev.MaxNotifiers, ev.MaxListeners}
}

func dynamicPayloadSize(caps [2]uint64) uintptr {
	return storage.PayloadSize(registry.MemorySize(caps[0]), registry.MemorySize(caps[1]))
}

// dynamicLayout places the two registries; creator and openers replay the
// same allocations.
func dynamicLayout(caps [2]uint64, out *[2]*registry.Container) storage.Layout {
	return func(alloc *bump.Allocator, init bool) error {
		for i, n := range caps {
			p, err := alloc.Allocate(registry.MemorySize(n), storage.PayloadAlignment)
			if err != nil {
				return err
			}
			if init {
				out[i], err = registry.Init(p, n)
			} else {
				out[i], err = registry.Attach(p)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func (b *ServiceBuilder) open(req serviceRequest) (*service, error) {
	res := b.opts.resources()
	timeout := b.opts.config.Global.CreationTimeout.Std()
	w := adaptivewait.New(b.opts.clock)

	for {
		cfg, state, err := b.probe(res, req.pattern)
		switch state {
		case absent:
			return nil, fmt.Errorf("%w: %s", ErrOpenDoesNotExist, b.name)
		case beingCreated:
			if w.Elapsed() >= timeout {
				return nil, fmt.Errorf("%w: %s after %s", ErrOpenHangsInCreation, b.name, timeout)
			}
			w.Wait()
			continue
		case corrupted:
			return nil, fmt.Errorf("%w: %v", ErrOpenServiceInCorruptedState, err)
		case incompatiblePattern:
			return nil, fmt.Errorf("%w: %v", ErrOpenIncompatibleMessagingPattern, err)
		case permissionDenied:
			return nil, fmt.Errorf("%w: %v", ErrOpenInsufficientPermissions, err)
		}

		if err := req.verify(cfg); err != nil {
			return nil, err
		}

		s := newService(b, res, cfg)
		caps := capacities(cfg)
		s.dynamic, err = storage.OpenDynamic(res.shm, b.dynamicName(), timeout, dynamicLayout(caps, &s.registries))
		if err != nil {
			// includes storage.ErrMarkedForDestruction when the last owner is tearing it down
			return nil, fmt.Errorf("%w: %w", ErrOpenUnableToOpenDynamicServiceInformation, err)
		}
		s.logger.V(logging.DEBUG).Info("opened service", "references", s.dynamic.ReferenceCount())
		return s, nil
	}
}

func (b *ServiceBuilder) create(req serviceRequest) (*service, error) {
	res := b.opts.resources()
	cfg, err := req.static()
	if err != nil {
		return nil, err
	}
	cfg.UUID = b.uuid
	cfg.ServiceName = string(b.name)

	locked, err := res.static.Create(b.staticName())
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		if _, state, _ := b.probe(res, req.pattern); state == beingCreated {
			return nil, fmt.Errorf("%w: %s", ErrCreateIsBeingCreatedByAnotherInstance, b.name)
		}
		return nil, fmt.Errorf("%w: %s", ErrCreateAlreadyExists, b.name)
	case errors.Is(err, storage.ErrPermissionDenied):
		return nil, fmt.Errorf("%w: %v", ErrCreateInsufficientPermissions, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrCreateUnableToCreateStaticServiceInformation, err)
	}

	s := newService(b, res, cfg)
	caps := capacities(cfg)
	s.dynamic, err = storage.CreateDynamic(res.shm, b.dynamicName(), dynamicPayloadSize(caps), dynamicLayout(caps, &s.registries))
	if err != nil {
		err = multierr.Append(err, locked.Abort())
		if errors.Is(err, storage.ErrAlreadyExists) {
			// no static storage but a dynamic one: leftovers of a dead process
			return nil, fmt.Errorf("%w: %v", ErrCreateCorrupted, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCreateInternalFailure, err)
	}

	content, err := encodeStaticConfig(cfg)
	if err == nil {
		err = locked.Unlock(content)
	}
	if err != nil {
		s.dynamic.AcquireOwnership()
		err = multierr.Combine(err, s.dynamic.Close(), locked.Abort())
		return nil, fmt.Errorf("%w: %v", ErrCreateInternalFailure, err)
	}

	s.logger.V(logging.VERBOSE).Info("created service", "pattern", req.pattern)
	return s, nil
}

func (b *ServiceBuilder) openOrCreate(req serviceRequest) (*service, error) {
	res := b.opts.resources()
	timeout := b.opts.config.Global.CreationTimeout.Std()
	w := adaptivewait.New(b.opts.clock)

	for {
		if _, state, _ := b.probe(res, req.pattern); state == absent {
			s, err := b.create(req)
			if !errors.Is(err, ErrCreateAlreadyExists) && !errors.Is(err, ErrCreateIsBeingCreatedByAnotherInstance) {
				return s, err
			}
		}

		s, err := b.open(req)
		// the service vanished or is vanishing between probe and open: try to create it again
		vanished := errors.Is(err, ErrOpenDoesNotExist) || errors.Is(err, storage.ErrMarkedForDestruction)
		if vanished && w.Elapsed() < timeout {
			w.Wait()
			continue
		}
		return s, err
	}
}

// service is one process's attachment to a service. The port factory and
// every port created from it hold a reference; the last one detaches.
type service struct {
	builder *ServiceBuilder
	res     resources
	static  *StaticConfig
	logger  logr.Logger

	dynamic    *storage.Dynamic
	registries [2]*registry.Container

	refs atomic.Int64
}

func newService(b *ServiceBuilder, res resources, static *StaticConfig) *service {
	s := &service{
		builder: b,
		res:     res,
		static:  static,
		logger:  b.opts.logger.WithValues("service", string(b.name)),
	}
	s.refs.Store(1)
	return s
}

func (s *service) name() string { return string(s.builder.name) }

func (s *service) opts() *options { return &s.builder.opts }

func (s *service) acquire() { s.refs.Add(1) }

// release drops one local reference. The last local reference drops the
// process's reference on the dynamic storage; when that was the last one
// across all processes, the service is removed.
func (s *service) release() error {
	n := s.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		logging.Panic(s.logger, "service reference count of %s dropped below zero", s.name())
	}

	if !s.dynamic.DecrementReferenceCounter() {
		return s.dynamic.Close()
	}

	s.dynamic.AcquireOwnership()
	err := s.dynamic.Close()
	if rerr := s.res.static.Remove(s.builder.staticName()); rerr != nil && !errors.Is(rerr, storage.ErrDoesNotExist) {
		err = multierr.Append(err, rerr)
	}
	s.logger.V(logging.VERBOSE).Info("removed service")
	return err
}
