package zcipc

import "errors"

//go:generate go tool stringer -type=OpenError,CreateError,PublisherCreateError,SubscriberCreateError,LoanError,SendError,ReceiveError,ConnectionFailure,NotifierCreateError,ListenerCreateError -trimprefix=Err -output=errors_string.go

// ErrInvalidServiceName is returned for empty names and names longer than
// MaxServiceNameLength bytes.
var ErrInvalidServiceName = errors.New("zcipc: invalid service name")

// OpenError describes why an existing service could not be opened.
type OpenError uint8

const (
	ErrOpenDoesNotExist OpenError = iota
	ErrOpenInternalFailure
	ErrOpenIncompatibleTypes
	ErrOpenIncompatibleMessagingPattern
	ErrOpenDoesNotSupportRequestedAmountOfPublishers
	ErrOpenDoesNotSupportRequestedAmountOfSubscribers
	ErrOpenDoesNotSupportRequestedAmountOfNotifiers
	ErrOpenDoesNotSupportRequestedAmountOfListeners
	ErrOpenInsufficientPermissions
	ErrOpenServiceInCorruptedState
	ErrOpenHangsInCreation
	ErrOpenUnableToOpenDynamicServiceInformation
)

var openErrorMessages = [...]string{
	ErrOpenDoesNotExist:                               "service does not exist",
	ErrOpenInternalFailure:                            "internal failure while opening service",
	ErrOpenIncompatibleTypes:                          "service uses an incompatible payload type",
	ErrOpenIncompatibleMessagingPattern:               "service uses another messaging pattern",
	ErrOpenDoesNotSupportRequestedAmountOfPublishers:  "service supports fewer publishers than requested",
	ErrOpenDoesNotSupportRequestedAmountOfSubscribers: "service supports fewer subscribers than requested",
	ErrOpenDoesNotSupportRequestedAmountOfNotifiers:   "service supports fewer notifiers than requested",
	ErrOpenDoesNotSupportRequestedAmountOfListeners:   "service supports fewer listeners than requested",
	ErrOpenInsufficientPermissions:                    "insufficient permissions to open service",
	ErrOpenServiceInCorruptedState:                    "service is in a corrupted state",
	ErrOpenHangsInCreation:                            "service creation did not finish in time",
	ErrOpenUnableToOpenDynamicServiceInformation:      "unable to open dynamic service information",
}

func (e OpenError) Error() string { return message(e.String(), int(e), openErrorMessages[:]) }

// CreateError describes why a service could not be created.
type CreateError uint8

const (
	ErrCreateAlreadyExists CreateError = iota
	ErrCreateIsBeingCreatedByAnotherInstance
	ErrCreateInsufficientPermissions
	ErrCreateCorrupted
	ErrCreateInternalFailure
	ErrCreateUnableToCreateStaticServiceInformation
	ErrCreateSubscriberBufferMustBeLargerThanHistorySize
)

var createErrorMessages = [...]string{
	ErrCreateAlreadyExists:                               "service already exists",
	ErrCreateIsBeingCreatedByAnotherInstance:             "service is being created by another instance",
	ErrCreateInsufficientPermissions:                     "insufficient permissions to create service",
	ErrCreateCorrupted:                                   "service resources are corrupted",
	ErrCreateInternalFailure:                             "internal failure while creating service",
	ErrCreateUnableToCreateStaticServiceInformation:      "unable to create static service information",
	ErrCreateSubscriberBufferMustBeLargerThanHistorySize: "subscriber buffer must be larger than history size without safe overflow",
}

func (e CreateError) Error() string { return message(e.String(), int(e), createErrorMessages[:]) }

// PublisherCreateError describes why a publisher could not be created.
type PublisherCreateError uint8

const (
	ErrExceedsMaxSupportedPublishers PublisherCreateError = iota
	ErrUnableToCreateDataSegment
)

var publisherCreateErrorMessages = [...]string{
	ErrExceedsMaxSupportedPublishers: "service already has the maximum number of publishers",
	ErrUnableToCreateDataSegment:     "unable to create the publisher data segment",
}

func (e PublisherCreateError) Error() string {
	return message(e.String(), int(e), publisherCreateErrorMessages[:])
}

// SubscriberCreateError describes why a subscriber could not be created.
type SubscriberCreateError uint8

const (
	ErrExceedsMaxSupportedSubscribers SubscriberCreateError = iota
)

var subscriberCreateErrorMessages = [...]string{
	ErrExceedsMaxSupportedSubscribers: "service already has the maximum number of subscribers",
}

func (e SubscriberCreateError) Error() string {
	return message(e.String(), int(e), subscriberCreateErrorMessages[:])
}

// LoanError describes why a publisher could not hand out a sample.
type LoanError uint8

const (
	ErrLoanOutOfMemory LoanError = iota
	ErrExceedsMaxLoanedChunks
	ErrLoanInternalFailure
)

var loanErrorMessages = [...]string{
	ErrLoanOutOfMemory:        "publisher data segment is out of chunks",
	ErrExceedsMaxLoanedChunks: "publisher already loaned the maximum number of samples",
	ErrLoanInternalFailure:    "internal failure while loaning a sample",
}

func (e LoanError) Error() string { return message(e.String(), int(e), loanErrorMessages[:]) }

// SendError describes why a sample could not be sent.
type SendError uint8

const (
	ErrSendConnectionError SendError = iota
	ErrSendInvalidSample
)

var sendErrorMessages = [...]string{
	ErrSendConnectionError: "connection update failed",
	ErrSendInvalidSample:   "sample was already sent or discarded, or belongs to another publisher",
}

func (e SendError) Error() string { return message(e.String(), int(e), sendErrorMessages[:]) }

// ReceiveError describes why a subscriber could not receive.
type ReceiveError uint8

const (
	ErrReceiveWouldExceedMaxBorrowValue ReceiveError = iota
	ErrReceiveConnectionFailure
)

var receiveErrorMessages = [...]string{
	ErrReceiveWouldExceedMaxBorrowValue: "receive would exceed the maximum number of borrowed samples",
	ErrReceiveConnectionFailure:         "connection update failed",
}

func (e ReceiveError) Error() string { return message(e.String(), int(e), receiveErrorMessages[:]) }

// ConnectionFailure describes why a port could not connect to a counterpart.
type ConnectionFailure uint8

const (
	ErrFailedToEstablishConnection ConnectionFailure = iota
	ErrUnableToMapPublishersDataSegment
)

var connectionFailureMessages = [...]string{
	ErrFailedToEstablishConnection:      "failed to establish connection",
	ErrUnableToMapPublishersDataSegment: "unable to map the data segment of the publisher",
}

func (e ConnectionFailure) Error() string {
	return message(e.String(), int(e), connectionFailureMessages[:])
}

// NotifierCreateError describes why a notifier could not be created.
type NotifierCreateError uint8

const (
	ErrExceedsMaxSupportedNotifiers NotifierCreateError = iota
)

var notifierCreateErrorMessages = [...]string{
	ErrExceedsMaxSupportedNotifiers: "service already has the maximum number of notifiers",
}

func (e NotifierCreateError) Error() string {
	return message(e.String(), int(e), notifierCreateErrorMessages[:])
}

// ListenerCreateError describes why a listener could not be created.
type ListenerCreateError uint8

const (
	ErrExceedsMaxSupportedListeners ListenerCreateError = iota
	ErrListenerResourceCreationFailed
)

var listenerCreateErrorMessages = [...]string{
	ErrExceedsMaxSupportedListeners:   "service already has the maximum number of listeners",
	ErrListenerResourceCreationFailed: "unable to create the event channel of the listener",
}

func (e ListenerCreateError) Error() string {
	return message(e.String(), int(e), listenerCreateErrorMessages[:])
}

func message(name string, i int, messages []string) string {
	if i < len(messages) && messages[i] != "" {
		return "zcipc: " + messages[i]
	}
	return "zcipc: " + name
}
