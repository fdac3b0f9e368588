// Package config holds the settings every zcipc process of a deployment must
// agree on: where services live, how their resources are named, and the
// defaults used when a service is created.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultFile is loaded by Current when present.
const DefaultFile = "config/zcipc.toml"

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Global   Global   `toml:"global"`
	Defaults Defaults `toml:"defaults"`
}

// Global names the resources of every service.
type Global struct {
	RootPath         string `toml:"root_path"`
	ServiceDirectory string `toml:"service_directory"`

	// SharedMemoryDirectory is where POSIX shared memory objects are created;
	// empty selects /dev/shm.
	SharedMemoryDirectory string `toml:"shared_memory_directory"`
	SharedMemoryPrefix    string `toml:"shared_memory_prefix"`

	PublisherDataSegmentSuffix string `toml:"publisher_data_segment_suffix"`
	StaticConfigStorageSuffix  string `toml:"static_config_storage_suffix"`
	DynamicConfigStorageSuffix string `toml:"dynamic_config_storage_suffix"`
	ConnectionSuffix           string `toml:"connection_suffix"`
	EventChannelSuffix         string `toml:"event_channel_suffix"`

	CreationTimeout Duration `toml:"creation_timeout"`
}

// Defaults are applied to builders before user settings.
type Defaults struct {
	PublishSubscribe PublishSubscribe `toml:"publish_subscribe"`
	Event            Event            `toml:"event"`
}

// PublishSubscribe defaults.
type PublishSubscribe struct {
	MaxSubscribers               uint64                  `toml:"max_subscribers"`
	MaxPublishers                uint64                  `toml:"max_publishers"`
	PublisherHistorySize         uint64                  `toml:"publisher_history_size"`
	SubscriberBufferSize         uint64                  `toml:"subscriber_buffer_size"`
	SubscriberMaxBorrowedSamples uint64                  `toml:"subscriber_max_borrowed_samples"`
	PublisherMaxLoanedSamples    uint64                  `toml:"publisher_max_loaned_samples"`
	EnableSafeOverflow           bool                    `toml:"enable_safe_overflow"`
	UnableToDeliverStrategy      UnableToDeliverStrategy `toml:"unable_to_deliver_strategy"`
}

// Event defaults.
type Event struct {
	MaxListeners       uint64 `toml:"max_listeners"`
	MaxNotifiers       uint64 `toml:"max_notifiers"`
	EventChannelBuffer uint64 `toml:"event_channel_buffer"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Global: Global{
			RootPath:                   "/tmp/zcipc/",
			ServiceDirectory:           "services",
			SharedMemoryPrefix:         "zcipc_",
			PublisherDataSegmentSuffix: ".publisher_data",
			StaticConfigStorageSuffix:  ".service",
			DynamicConfigStorageSuffix: ".dynamic",
			ConnectionSuffix:           ".connection",
			EventChannelSuffix:         ".event",
			CreationTimeout:            Duration(500 * time.Millisecond),
		},
		Defaults: Defaults{
			PublishSubscribe: PublishSubscribe{
				MaxSubscribers:               8,
				MaxPublishers:                2,
				PublisherHistorySize:         1,
				SubscriberBufferSize:         2,
				SubscriberMaxBorrowedSamples: 2,
				PublisherMaxLoanedSamples:    2,
				EnableSafeOverflow:           true,
				UnableToDeliverStrategy:      Block,
			},
			Event: Event{
				MaxListeners:       2,
				MaxNotifiers:       16,
				EventChannelBuffer: 64,
			},
		},
	}
}

// Load reads a TOML file over the defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("zcipc: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Marshal renders cfg as TOML.
func Marshal(cfg Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

// ServiceDirectory returns the directory holding the static storage of
// every service.
func (c *Config) ServiceDirectory() string {
	return filepath.Join(c.Global.RootPath, c.Global.ServiceDirectory)
}

var (
	globalMu  sync.Mutex
	globalCfg *Config
)

// Current returns the process-wide configuration. On first use it is loaded
// from DefaultFile when that file exists, then ZCIPC_* variables are applied.
func Current() Config {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCfg == nil {
		cfg := Default()
		if _, err := os.Stat(DefaultFile); err == nil {
			if loaded, err := Load(DefaultFile); err == nil {
				cfg = loaded
			}
		}
		FromEnv(&cfg)
		globalCfg = &cfg
	}
	return *globalCfg
}

// SetCurrent replaces the process-wide configuration.
func SetCurrent(cfg Config) {
	globalMu.Lock()
	globalCfg = &cfg
	globalMu.Unlock()
}

// Duration is a time.Duration written as a string such as "500ms".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

//go:generate go tool stringer -type=UnableToDeliverStrategy -linecomment

// UnableToDeliverStrategy decides what a publisher does when a subscriber's
// buffer is full and safe overflow is disabled. Block waits until the
// subscriber makes room, DiscardSample drops the sample for that subscriber.
type UnableToDeliverStrategy uint8

const (
	Block         UnableToDeliverStrategy = iota // block
	DiscardSample                                // discard_sample
)

func (s UnableToDeliverStrategy) MarshalText() ([]byte, error) {
	switch s {
	case Block, DiscardSample:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("zcipc: unknown unable to deliver strategy %d", uint8(s))
}

func (s *UnableToDeliverStrategy) UnmarshalText(b []byte) error {
	switch string(b) {
	case "block":
		*s = Block
	case "discard_sample":
		*s = DiscardSample
	default:
		return fmt.Errorf("zcipc: unknown unable to deliver strategy %q", b)
	}
	return nil
}
