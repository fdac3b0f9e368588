package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays ZCIPC_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("ZCIPC_ROOT_PATH"); v != "" {
		cfg.Global.RootPath = v
	}
	if v := os.Getenv("ZCIPC_SERVICE_DIRECTORY"); v != "" {
		cfg.Global.ServiceDirectory = v
	}
	if v := os.Getenv("ZCIPC_SHARED_MEMORY_DIRECTORY"); v != "" {
		cfg.Global.SharedMemoryDirectory = v
	}
	if v := os.Getenv("ZCIPC_SHARED_MEMORY_PREFIX"); v != "" {
		cfg.Global.SharedMemoryPrefix = v
	}
	if v := os.Getenv("ZCIPC_CREATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Global.CreationTimeout = Duration(d)
		}
	}

	ps := &cfg.Defaults.PublishSubscribe
	envUint("ZCIPC_MAX_SUBSCRIBERS", &ps.MaxSubscribers)
	envUint("ZCIPC_MAX_PUBLISHERS", &ps.MaxPublishers)
	envUint("ZCIPC_PUBLISHER_HISTORY_SIZE", &ps.PublisherHistorySize)
	envUint("ZCIPC_SUBSCRIBER_BUFFER_SIZE", &ps.SubscriberBufferSize)
	envUint("ZCIPC_SUBSCRIBER_MAX_BORROWED_SAMPLES", &ps.SubscriberMaxBorrowedSamples)
	envUint("ZCIPC_PUBLISHER_MAX_LOANED_SAMPLES", &ps.PublisherMaxLoanedSamples)
	if v := os.Getenv("ZCIPC_ENABLE_SAFE_OVERFLOW"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			ps.EnableSafeOverflow = b
		}
	}
	if v := os.Getenv("ZCIPC_UNABLE_TO_DELIVER_STRATEGY"); v != "" {
		var s UnableToDeliverStrategy
		if err := s.UnmarshalText([]byte(v)); err == nil {
			ps.UnableToDeliverStrategy = s
		}
	}

	ev := &cfg.Defaults.Event
	envUint("ZCIPC_MAX_LISTENERS", &ev.MaxListeners)
	envUint("ZCIPC_MAX_NOTIFIERS", &ev.MaxNotifiers)
}

func envUint(key string, dst *uint64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
