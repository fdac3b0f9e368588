package zcipc

import (
	"errors"
	"fmt"

	"gosuda.org/zcipc/internal/logging"
	"gosuda.org/zcipc/internal/storage"
)

// List calls fn with the static config of every service that finished its
// creation, until fn returns false. Services being created or with a broken
// static config are skipped.
func List(fn func(StaticConfig) bool, opts ...Option) error {
	o := newOptions(opts)
	res := o.resources()
	names, err := res.static.List(o.config.Global.StaticConfigStorageSuffix)
	if err != nil {
		return fmt.Errorf("zcipc: unable to list services: %w", err)
	}

	for _, name := range names {
		content, err := res.static.Read(name)
		if errors.Is(err, storage.ErrLocked) || errors.Is(err, storage.ErrDoesNotExist) {
			continue
		}
		if err != nil {
			o.logger.V(logging.DEBUG).Info("skipping unreadable static config", "name", name, "error", err.Error())
			continue
		}
		cfg, err := decodeStaticConfig(content)
		if err != nil {
			o.logger.V(logging.DEBUG).Info("skipping undecodable static config", "name", name, "error", err.Error())
			continue
		}
		if !fn(*cfg) {
			return nil
		}
	}
	return nil
}

// DoesExist reports whether the service exists with the given pattern. A
// service that is still being created does not exist yet.
func DoesExist(name ServiceName, pattern MessagingPattern, opts ...Option) (bool, error) {
	b := NewService(name, opts...)
	_, state, err := b.probe(b.opts.resources(), pattern)
	switch state {
	case available:
		return true, nil
	case absent, beingCreated, incompatiblePattern:
		return false, nil
	}
	return false, err
}
