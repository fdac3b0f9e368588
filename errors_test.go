package zcipc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	for _, tc := range []struct {
		err    error
		name   string
		prefix string
	}{
		{ErrOpenDoesNotExist, "OpenDoesNotExist", "zcipc: service does not exist"},
		{ErrCreateAlreadyExists, "CreateAlreadyExists", "zcipc: service already exists"},
		{ErrExceedsMaxLoanedChunks, "ExceedsMaxLoanedChunks", "zcipc: "},
		{ErrReceiveWouldExceedMaxBorrowValue, "ReceiveWouldExceedMaxBorrowValue", "zcipc: "},
		{ErrExceedsMaxSupportedListeners, "ExceedsMaxSupportedListeners", "zcipc: "},
	} {
		assert.Equal(t, tc.name, tc.err.(fmt.Stringer).String())
		assert.Contains(t, tc.err.Error(), tc.prefix)
	}
	assert.Equal(t, "OpenError(200)", OpenError(200).String())
}

func TestErrorKindsDoNotCollide(t *testing.T) {
	// same underlying value, different kinds
	wrapped := fmt.Errorf("%w: details", ErrOpenDoesNotExist)
	assert.ErrorIs(t, wrapped, ErrOpenDoesNotExist)
	assert.False(t, errors.Is(wrapped, ErrCreateAlreadyExists))
	assert.False(t, errors.Is(wrapped, ErrExceedsMaxSupportedPublishers))
}

func TestPortIDsAreUnique(t *testing.T) {
	seen := map[UniquePublisherID]bool{}
	var last uint64
	for range 1000 {
		id := newPublisherID()
		require.False(t, seen[id])
		seen[id] = true
		require.Greater(t, id.Counter(), last)
		last = id.Counter()
	}
	sub := newSubscriberID()
	assert.Greater(t, sub.Counter(), last)
	assert.NotZero(t, sub.ProcessID())
	assert.Equal(t, fmt.Sprintf("%d_%x", sub.ProcessID(), sub.Counter()), sub.String())
}

func TestBackendParsing(t *testing.T) {
	for _, b := range backends {
		parsed, err := ParseBackend(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, parsed)
	}
	_, err := ParseBackend("carrier_pigeon")
	require.Error(t, err)
	assert.Equal(t, "process_local", ProcessLocal.String())
	assert.Equal(t, "Backend(9)", Backend(9).String())
}

func TestDegradationActionNames(t *testing.T) {
	assert.Equal(t, "ignore", DegradationIgnore.String())
	assert.Equal(t, "warn", DegradationWarn.String())
	assert.Equal(t, "fail", DegradationFail.String())
	assert.Equal(t, "DegradationAction(3)", DegradationAction(3).String())
}

func TestWait(t *testing.T) {
	ev, err := Wait(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, Tick, ev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ev, err = Wait(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, TerminationRequest, ev)
	assert.Equal(t, "termination_request", ev.String())
}
