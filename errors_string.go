// Code generated by "stringer -type=OpenError,CreateError,PublisherCreateError,SubscriberCreateError,LoanError,SendError,ReceiveError,ConnectionFailure,NotifierCreateError,ListenerCreateError -trimprefix=Err -output=errors_string.go"; DO NOT EDIT.

package zcipc

import "strconv"

func _() {
	// An "invalid array index" compiler error signifies that the constant values have changed.
	// Re-run the stringer command to generate them again.
	var x [1]struct{}
	_ = x[ErrOpenDoesNotExist-0]
	_ = x[ErrOpenInternalFailure-1]
	_ = x[ErrOpenIncompatibleTypes-2]
	_ = x[ErrOpenIncompatibleMessagingPattern-3]
	_ = x[ErrOpenDoesNotSupportRequestedAmountOfPublishers-4]
	_ = x[ErrOpenDoesNotSupportRequestedAmountOfSubscribers-5]
	_ = x[ErrOpenDoesNotSupportRequestedAmountOfNotifiers-6]
	_ = x[ErrOpenDoesNotSupportRequestedAmountOfListeners-7]
	_ = x[ErrOpenInsufficientPermissions-8]
	_ = x[ErrOpenServiceInCorruptedState-9]
	_ = x[ErrOpenHangsInCreation-10]
	_ = x[ErrOpenUnableToOpenDynamicServiceInformation-11]
}

const _OpenError_name = "OpenDoesNotExistOpenInternalFailureOpenIncompatibleTypesOpenIncompatibleMessagingPatternOpenDoesNotSupportRequestedAmountOfPublishersOpenDoesNotSupportRequestedAmountOfSubscribersOpenDoesNotSupportRequestedAmountOfNotifiersOpenDoesNotSupportRequestedAmountOfListenersOpenInsufficientPermissionsOpenServiceInCorruptedStateOpenHangsInCreationOpenUnableToOpenDynamicServiceInformation"

var _OpenError_index = [...]uint16{0, 16, 35, 56, 88, 133, 179, 223, 267, 294, 321, 340, 381}

func (i OpenError) String() string {
	if i >= OpenError(len(_OpenError_index)-1) {
		return "OpenError(" + strconv.FormatInt(int64(i), 10) + ")"
	}
	return _OpenError_name[_OpenError_index[i]:_OpenError_index[i+1]]
}

func _() {
	// An "invalid array index" compiler error signifies that the constant values have changed.
	// Re-run the stringer command to generate them again.
	var x [1]struct{}
	_ = x[ErrCreateAlreadyExists-0]
	_ = x[ErrCreateIsBeingCreatedByAnotherInstance-1]
	_ = x[ErrCreateInsufficientPermissions-2]
	_ = x[ErrCreateCorrupted-3]
	_ = x[ErrCreateInternalFailure-4]
	_ = x[ErrCreateUnableToCreateStaticServiceInformation-5]
	_ = x[ErrCreateSubscriberBufferMustBeLargerThanHistorySize-6]
}

const _CreateError_name = "CreateAlreadyExistsCreateIsBeingCreatedByAnotherInstanceCreateInsufficientPermissionsCreateCorruptedCreateInternalFailureCreateUnableToCreateStaticServiceInformationCreateSubscriberBufferMustBeLargerThanHistorySize"

var _CreateError_index = [...]uint8{0, 19, 56, 85, 100, 121, 165, 214}

func (i CreateError) String() string {
	if i >= CreateError(len(_CreateError_index)-1) {
		return "CreateError(" + strconv.FormatInt(int64(i), 10) + ")"
	}
	return _CreateError_name[_CreateError_index[i]:_CreateError_index[i+1]]
}

func _() {
	// An "invalid array index" compiler error signifies that the constant values have changed.
	// Re-run the stringer command to generate them again.
	var x [1]struct{}
	_ = x[ErrExceedsMaxSupportedPublishers-0]
	_ = x[ErrUnableToCreateDataSegment-1]
}

const _PublisherCreateError_name = "ExceedsMaxSupportedPublishersUnableToCreateDataSegment"

var _PublisherCreateError_index = [...]uint8{0, 29, 54}

func (i PublisherCreateError) String() string {
	if i >= PublisherCreateError(len(_PublisherCreateError_index)-1) {
		return "PublisherCreateError(" + strconv.FormatInt(int64(i), 10) + ")"
	}
	return _PublisherCreateError_name[_PublisherCreateError_index[i]:_PublisherCreateError_index[i+1]]
}

func _() {
	// An "invalid array index" compiler error signifies that the constant values have changed.
	// Re-run the stringer command to generate them again.
	var x [1]struct{}
	_ = x[ErrExceedsMaxSupportedSubscribers-0]
}

const _SubscriberCreateError_name = "ExceedsMaxSupportedSubscribers"

var _SubscriberCreateError_index = [...]uint8{0, 30}

func (i SubscriberCreateError) String() string {
	if i >= SubscriberCreateError(len(_SubscriberCreateError_index)-1) {
		return "SubscriberCreateError(" + strconv.FormatInt(int64(i), 10) + ")"
	}
	return _SubscriberCreateError_name[_SubscriberCreateError_index[i]:_SubscriberCreateError_index[i+1]]
}

func _() {
	// An "invalid array index" compiler error signifies that the constant values have changed.
	// Re-run the stringer command to generate them again.
	var x [1]struct{}
	_ = x[ErrLoanOutOfMemory-0]
	_ = x[ErrExceedsMaxLoanedChunks-1]
	_ = x[ErrLoanInternalFailure-2]
}

const _LoanError_name = "LoanOutOfMemoryExceedsMaxLoanedChunksLoanInternalFailure"

var _LoanError_index = [...]uint8{0, 15, 37, 56}

func (i LoanError) String() string {
	if i >= LoanError(len(_LoanError_index)-1) {
		return "LoanError(" + strconv.FormatInt(int64(i), 10) + ")"
	}
	return _LoanError_name[_LoanError_index[i]:_LoanError_index[i+1]]
}

func _() {
	// An "invalid array index" compiler error signifies that the constant values have changed.
	// Re-run the stringer command to generate them again.
	var x [1]struct{}
	_ = x[ErrSendConnectionError-0]
	_ = x[ErrSendInvalidSample-1]
}

const _SendError_name = "SendConnectionErrorSendInvalidSample"

var _SendError_index = [...]uint8{0, 19, 36}

func (i SendError) String() string {
	if i >= SendError(len(_SendError_index)-1) {
		return "SendError(" + strconv.FormatInt(int64(i), 10) + ")"
	}
	return _SendError_name[_SendError_index[i]:_SendError_index[i+1]]
}

func _() {
	// An "invalid array index" compiler error signifies that the constant values have changed.
	// Re-run the stringer command to generate them again.
	var x [1]struct{}
	_ = x[ErrReceiveWouldExceedMaxBorrowValue-0]
	_ = x[ErrReceiveConnectionFailure-1]
}

const _ReceiveError_name = "ReceiveWouldExceedMaxBorrowValueReceiveConnectionFailure"

var _ReceiveError_index = [...]uint8{0, 32, 56}

func (i ReceiveError) String() string {
	if i >= ReceiveError(len(_ReceiveError_index)-1) {
		return "ReceiveError(" + strconv.FormatInt(int64(i), 10) + ")"
	}
	return _ReceiveError_name[_ReceiveError_index[i]:_ReceiveError_index[i+1]]
}

func _() {
	// An "invalid array index" compiler error signifies that the constant values have changed.
	// Re-run the stringer command to generate them again.
	var x [1]struct{}
	_ = x[ErrFailedToEstablishConnection-0]
	_ = x[ErrUnableToMapPublishersDataSegment-1]
}

const _ConnectionFailure_name = "FailedToEstablishConnectionUnableToMapPublishersDataSegment"

var _ConnectionFailure_index = [...]uint8{0, 27, 59}

func (i ConnectionFailure) String() string {
	if i >= ConnectionFailure(len(_ConnectionFailure_index)-1) {
		return "ConnectionFailure(" + strconv.FormatInt(int64(i), 10) + ")"
	}
	return _ConnectionFailure_name[_ConnectionFailure_index[i]:_ConnectionFailure_index[i+1]]
}

func _() {
	// An "invalid array index" compiler error signifies that the constant values have changed.
	// Re-run the stringer command to generate them again.
	var x [1]struct{}
	_ = x[ErrExceedsMaxSupportedNotifiers-0]
}

const _NotifierCreateError_name = "ExceedsMaxSupportedNotifiers"

var _NotifierCreateError_index = [...]uint8{0, 28}

func (i NotifierCreateError) String() string {
	if i >= NotifierCreateError(len(_NotifierCreateError_index)-1) {
		return "NotifierCreateError(" + strconv.FormatInt(int64(i), 10) + ")"
	}
	return _NotifierCreateError_name[_NotifierCreateError_index[i]:_NotifierCreateError_index[i+1]]
}

func _() {
	// An "invalid array index" compiler error signifies that the constant values have changed.
	// Re-run the stringer command to generate them again.
	var x [1]struct{}
	_ = x[ErrExceedsMaxSupportedListeners-0]
	_ = x[ErrListenerResourceCreationFailed-1]
}

const _ListenerCreateError_name = "ExceedsMaxSupportedListenersListenerResourceCreationFailed"

var _ListenerCreateError_index = [...]uint8{0, 28, 58}

func (i ListenerCreateError) String() string {
	if i >= ListenerCreateError(len(_ListenerCreateError_index)-1) {
		return "ListenerCreateError(" + strconv.FormatInt(int64(i), 10) + ")"
	}
	return _ListenerCreateError_name[_ListenerCreateError_index[i]:_ListenerCreateError_index[i+1]]
}
