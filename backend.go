package zcipc

import (
	"fmt"
	"path/filepath"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"gosuda.org/zcipc/config"
	"gosuda.org/zcipc/internal/logging"
	"gosuda.org/zcipc/internal/shm"
	"gosuda.org/zcipc/internal/storage"
)

// Backend selects where the resources of a service live.
type Backend uint8

const (
	// ZeroCopy shares services between processes: static storage are files
	// below the service directory, everything else is shared memory.
	ZeroCopy Backend = iota // zero_copy

	// ProcessLocal keeps every resource in the memory of this process.
	ProcessLocal // process_local
)

// ParseBackend is the inverse of Backend.String.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "zero_copy", "":
		return ZeroCopy, nil
	case "process_local":
		return ProcessLocal, nil
	}
	return 0, fmt.Errorf("zcipc: unknown backend %q", s)
}

// Option configures how a service is located and how its ports behave.
type Option func(*options)

type options struct {
	config  config.Config
	backend Backend
	logger  logr.Logger
	clock   clock.Clock
}

// WithConfig replaces the process-wide configuration.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithBackend selects the backend, ZeroCopy by default.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithLogger sets the logger of the service and its ports.
func WithLogger(l logr.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock used for sample timestamps and waits.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func newOptions(opts []Option) options {
	o := options{
		config:  config.Current(),
		backend: ZeroCopy,
		logger:  logging.Logger(),
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// resources are the providers of one backend under one configuration.
type resources struct {
	shm    shm.Provider
	static storage.StaticProvider
}

func (o *options) resources() resources {
	g := o.config.Global
	switch o.backend {
	case ProcessLocal:
		namespace := filepath.Join(g.RootPath, g.ServiceDirectory, g.SharedMemoryPrefix)
		return resources{
			shm:    shm.NewProcessLocal(namespace),
			static: storage.NewLocalStatic(namespace),
		}
	default:
		return resources{
			shm:    shm.NewPosix(g.SharedMemoryDirectory, g.SharedMemoryPrefix),
			static: storage.NewFileStatic(o.config.ServiceDirectory()),
		}
	}
}
