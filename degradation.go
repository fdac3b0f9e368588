package zcipc

//go:generate go tool stringer -type=Backend,DegradationAction -linecomment -output=enums_string.go

// DegradationAction is how a publisher reacts when it cannot connect to a
// subscriber it discovered.
type DegradationAction uint8

const (
	// DegradationIgnore skips the subscriber silently.
	DegradationIgnore DegradationAction = iota // ignore
	// DegradationWarn skips the subscriber and logs a warning.
	DegradationWarn // warn
	// DegradationFail returns the failure to the caller.
	DegradationFail // fail
)

// DegradationPolicy decides per failed connection.
type DegradationPolicy interface {
	Decide(service *StaticConfig, publisher UniquePublisherID, subscriber UniqueSubscriberID) DegradationAction
}

// DegradationFunc adapts a function to DegradationPolicy.
type DegradationFunc func(service *StaticConfig, publisher UniquePublisherID, subscriber UniqueSubscriberID) DegradationAction

func (f DegradationFunc) Decide(service *StaticConfig, publisher UniquePublisherID, subscriber UniqueSubscriberID) DegradationAction {
	return f(service, publisher, subscriber)
}

// ConstantDegradation answers every failure with the same action.
type ConstantDegradation DegradationAction

func (c ConstantDegradation) Decide(*StaticConfig, UniquePublisherID, UniqueSubscriberID) DegradationAction {
	return DegradationAction(c)
}
