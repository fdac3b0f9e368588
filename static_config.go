package zcipc

import (
	"fmt"
	"reflect"

	"github.com/pelletier/go-toml/v2"
)

// MessagingPattern is the kind of communication a service offers.
type MessagingPattern uint8

const (
	PublishSubscribe MessagingPattern = iota
	Event
)

func (p MessagingPattern) String() string {
	switch p {
	case PublishSubscribe:
		return "publish_subscribe"
	case Event:
		return "event"
	}
	return fmt.Sprintf("MessagingPattern(%d)", uint8(p))
}

// StaticConfig is the write-once description of a service stored next to
// its name. Exactly one of the pattern sections is set.
type StaticConfig struct {
	UUID             string                 `toml:"uuid"`
	ServiceName      string                 `toml:"service_name"`
	MessagingPattern MessagingPatternConfig `toml:"messaging_pattern"`
}

// MessagingPatternConfig holds the settings of the pattern the service uses.
type MessagingPatternConfig struct {
	PublishSubscribe *PublishSubscribeConfig `toml:"publish_subscribe,omitempty"`
	Event            *EventConfig            `toml:"event,omitempty"`
}

// PublishSubscribeConfig are the limits every publisher and subscriber of a
// service obeys.
type PublishSubscribeConfig struct {
	MaxSubscribers               uint64 `toml:"max_subscribers"`
	MaxPublishers                uint64 `toml:"max_publishers"`
	HistorySize                  uint64 `toml:"history_size"`
	SubscriberBufferSize         uint64 `toml:"subscriber_buffer_size"`
	SubscriberMaxBorrowedSamples uint64 `toml:"subscriber_max_borrowed_samples"`
	EnableSafeOverflow           bool   `toml:"enable_safe_overflow"`
	TypeName                     string `toml:"type_name"`
	TypeSize                     uint64 `toml:"type_size"`
	TypeAlignment                uint64 `toml:"type_alignment"`
}

// EventConfig are the limits of an event service.
type EventConfig struct {
	MaxNotifiers uint64 `toml:"max_notifiers"`
	MaxListeners uint64 `toml:"max_listeners"`
}

// Pattern reports which messaging pattern the config describes.
func (c *StaticConfig) Pattern() (MessagingPattern, bool) {
	switch {
	case c.MessagingPattern.PublishSubscribe != nil && c.MessagingPattern.Event == nil:
		return PublishSubscribe, true
	case c.MessagingPattern.Event != nil && c.MessagingPattern.PublishSubscribe == nil:
		return Event, true
	}
	return 0, false
}

func encodeStaticConfig(c *StaticConfig) ([]byte, error) {
	return toml.Marshal(c)
}

func decodeStaticConfig(b []byte) (*StaticConfig, error) {
	var c StaticConfig
	if err := toml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if _, ok := c.Pattern(); !ok {
		return nil, fmt.Errorf("zcipc: static config %q names no single messaging pattern", c.ServiceName)
	}
	return &c, nil
}

// typeDetails describes T so that ports of different programs agree on the
// chunk layout.
type typeDetails struct {
	name      string
	size      uint64
	alignment uint64
}

func typeDetailsOf[T any]() typeDetails {
	t := reflect.TypeFor[T]()
	return typeDetails{
		name:      t.String(),
		size:      uint64(t.Size()),
		alignment: uint64(t.Align()),
	}
}

func (d typeDetails) matches(c *PublishSubscribeConfig) bool {
	return d.name == c.TypeName && d.size == c.TypeSize && d.alignment == c.TypeAlignment
}
