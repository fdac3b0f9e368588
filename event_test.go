package zcipc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/zcipc/config"
)

func collect(ids *[]EventID) func(EventID) bool {
	return func(id EventID) bool {
		*ids = append(*ids, id)
		return true
	}
}

func TestNotifyListeners(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := NewService("doorbell", opts...).Event().Create()
		require.NoError(t, err)
		defer f.Close()

		notifier, err := f.Notifier().DefaultEventID(3).Create()
		require.NoError(t, err)
		defer notifier.Close()

		a, err := f.Listener().Create()
		require.NoError(t, err)
		defer a.Close()
		b, err := f.Listener().Create()
		require.NoError(t, err)
		defer b.Close()
		assert.EqualValues(t, 2, f.NumberOfListeners())
		assert.EqualValues(t, 1, f.NumberOfNotifiers())

		assert.Equal(t, 2, notifier.Notify())
		assert.Equal(t, 2, notifier.NotifyWithCustomEventID(9))

		var got []EventID
		assert.Equal(t, 2, a.TryWait(collect(&got)))
		assert.Equal(t, []EventID{3, 9}, got)

		got = nil
		assert.Equal(t, 2, b.TimedWait(collect(&got), time.Second))
		assert.Equal(t, []EventID{3, 9}, got)

		assert.Equal(t, 0, a.TryWait(collect(&got)))
	})
}

func TestTryWaitStopsWhenCallbackDeclines(t *testing.T) {
	opts := testOptions(t, ProcessLocal)
	f, err := NewService("stop", opts...).Event().Create()
	require.NoError(t, err)
	defer f.Close()

	l, err := f.Listener().Create()
	require.NoError(t, err)
	defer l.Close()
	n, err := f.Notifier().Create()
	require.NoError(t, err)
	defer n.Close()

	for id := range EventID(3) {
		require.Equal(t, 1, n.NotifyWithCustomEventID(id))
	}

	var got []EventID
	assert.Equal(t, 1, l.TryWait(func(id EventID) bool {
		got = append(got, id)
		return false
	}))
	assert.Equal(t, 2, l.TryWait(collect(&got)))
	assert.Equal(t, []EventID{0, 1, 2}, got)
}

func TestListenerWaits(t *testing.T) {
	opts := testOptions(t, ProcessLocal)
	f, err := NewService("waits", opts...).Event().Create()
	require.NoError(t, err)
	defer f.Close()

	l, err := f.Listener().Create()
	require.NoError(t, err)
	defer l.Close()

	var got []EventID
	assert.Equal(t, 0, l.TimedWait(collect(&got), 10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := l.BlockingWait(ctx, collect(&got))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)

	notifier, err := f.Notifier().DefaultEventID(5).Create()
	require.NoError(t, err)
	defer notifier.Close()
	done := make(chan struct{})
	go func() {
		notifier.Notify()
		close(done)
	}()

	n, err = l.BlockingWait(context.Background(), collect(&got))
	require.NoError(t, err)
	<-done
	assert.Equal(t, 1, n)
	assert.Equal(t, []EventID{5}, got)
}

func TestFullEventChannelDropsEvents(t *testing.T) {
	cfg := config.Default()
	cfg.Global.RootPath = t.TempDir()
	cfg.Defaults.Event.EventChannelBuffer = 2
	opts := []Option{WithConfig(cfg), WithBackend(ProcessLocal)}

	f, err := NewService("full", opts...).Event().Create()
	require.NoError(t, err)
	defer f.Close()
	l, err := f.Listener().Create()
	require.NoError(t, err)
	defer l.Close()
	n, err := f.Notifier().Create()
	require.NoError(t, err)
	defer n.Close()

	assert.Equal(t, 1, n.Notify())
	assert.Equal(t, 1, n.Notify())
	assert.Equal(t, 0, n.Notify())

	var got []EventID
	assert.Equal(t, 2, l.TryWait(collect(&got)))
}

func TestNotifierForgetsClosedListener(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := NewService("gone", opts...).Event().Create()
		require.NoError(t, err)
		defer f.Close()

		n, err := f.Notifier().Create()
		require.NoError(t, err)
		defer n.Close()
		l, err := f.Listener().Create()
		require.NoError(t, err)

		assert.Equal(t, 1, n.Notify())
		require.NoError(t, l.Close())
		assert.Equal(t, 0, n.Notify())
	})
}

func TestEventLimits(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := NewService("event-limits", opts...).Event().
			MaxNotifiers(1).
			MaxListeners(1).
			Create()
		require.NoError(t, err)
		defer f.Close()

		n, err := f.Notifier().Create()
		require.NoError(t, err)
		defer n.Close()
		_, err = f.Notifier().Create()
		require.ErrorIs(t, err, ErrExceedsMaxSupportedNotifiers)

		l, err := f.Listener().Create()
		require.NoError(t, err)
		defer l.Close()
		_, err = f.Listener().Create()
		require.ErrorIs(t, err, ErrExceedsMaxSupportedListeners)

		_, err = NewService("event-limits", opts...).Event().MaxListeners(2).Open()
		require.ErrorIs(t, err, ErrOpenDoesNotSupportRequestedAmountOfListeners)
		_, err = NewService("event-limits", opts...).Event().MaxNotifiers(2).Open()
		require.ErrorIs(t, err, ErrOpenDoesNotSupportRequestedAmountOfNotifiers)
	})
}

func TestEventServiceIsRemovedWithLastPort(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := NewService("event-last", opts...).Event().OpenOrCreate()
		require.NoError(t, err)
		l, err := f.Listener().Create()
		require.NoError(t, err)
		require.NoError(t, f.Close())

		exists, err := DoesExist("event-last", Event, opts...)
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, l.Close())
		exists, err = DoesExist("event-last", Event, opts...)
		require.NoError(t, err)
		assert.False(t, exists)
	})
}
