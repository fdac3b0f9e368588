package zcipc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	testingclock "k8s.io/utils/clock/testing"

	"gosuda.org/zcipc/config"
	"gosuda.org/zcipc/internal/protocol"
)

type position struct {
	X, Y, Z float64
	Seq     uint32
}

func receiveAll[T any](t *testing.T, sub *Subscriber[T]) []T {
	t.Helper()
	var out []T
	for {
		s, err := sub.Receive()
		require.NoError(t, err)
		if s == nil {
			return out
		}
		out = append(out, *s.Payload())
		s.Release()
	}
}

func TestSendReceive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[position](NewService("position", opts...)).Create()
		require.NoError(t, err)
		defer f.Close()

		sub, err := f.Subscriber().Create()
		require.NoError(t, err)
		defer sub.Close()
		pub, err := f.Publisher().Create()
		require.NoError(t, err)
		defer pub.Close()

		assert.Equal(t, 1, pub.NumberOfSubscribers())
		require.NoError(t, sub.UpdateConnections())
		assert.Equal(t, 1, sub.NumberOfPublishers())

		sample, err := pub.Loan()
		require.NoError(t, err)
		sample.Write(position{X: 1, Y: 2, Z: 3, Seq: 7})
		n, err := sample.Send()
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := sub.Receive()
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, position{X: 1, Y: 2, Z: 3, Seq: 7}, *got.Payload())
		assert.Equal(t, pub.ID(), got.Header().PublisherID())
		got.Release()
		got.Release()

		none, err := sub.Receive()
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestSampleTimestampUsesClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	opts := testOptions(t, ProcessLocal, WithClock(testingclock.NewFakeClock(now)))

	f, err := PubSub[uint64](NewService("clock", opts...)).Create()
	require.NoError(t, err)
	defer f.Close()
	pub, err := f.Publisher().Create()
	require.NoError(t, err)
	defer pub.Close()

	sample, err := pub.Loan()
	require.NoError(t, err)
	assert.True(t, now.Equal(sample.Header().Timestamp()))
	sample.Discard()
}

func TestLoanLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("loans", opts...)).Create()
		require.NoError(t, err)
		defer f.Close()
		pub, err := f.Publisher().MaxLoanedSamples(2).Create()
		require.NoError(t, err)
		defer pub.Close()

		a, err := pub.Loan()
		require.NoError(t, err)
		b, err := pub.Loan()
		require.NoError(t, err)
		_, err = pub.Loan()
		require.ErrorIs(t, err, ErrExceedsMaxLoanedChunks)

		a.Discard()
		c, err := pub.Loan()
		require.NoError(t, err)

		_, err = b.Send()
		require.NoError(t, err)
		c.Discard()
		c.Discard()
		_, err = b.Send()
		require.ErrorIs(t, err, ErrSendInvalidSample)
	})
}

func TestLoanAgainAfterSend(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("loan-send", opts...)).Create()
		require.NoError(t, err)
		defer f.Close()
		pub, err := f.Publisher().MaxLoanedSamples(2).Create()
		require.NoError(t, err)
		defer pub.Close()

		a, err := pub.Loan()
		require.NoError(t, err)
		b, err := pub.Loan()
		require.NoError(t, err)
		_, err = pub.Loan()
		require.ErrorIs(t, err, ErrExceedsMaxLoanedChunks)

		a.Write(1)
		_, err = a.Send()
		require.NoError(t, err)
		c, err := pub.Loan()
		require.NoError(t, err)

		b.Discard()
		c.Discard()
	})
}

func TestSendSampleOfOtherPublisher(t *testing.T) {
	opts := testOptions(t, ProcessLocal)
	f, err := PubSub[uint64](NewService("foreign", opts...)).Create()
	require.NoError(t, err)
	defer f.Close()

	a, err := f.Publisher().Create()
	require.NoError(t, err)
	defer a.Close()
	b, err := f.Publisher().Create()
	require.NoError(t, err)
	defer b.Close()

	sample, err := a.Loan()
	require.NoError(t, err)
	_, err = b.Send(sample)
	require.ErrorIs(t, err, ErrSendInvalidSample)
	sample.Discard()
}

func TestSafeOverflowKeepsNewestSamples(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("overflow", opts...)).
			SubscriberBufferSize(2).
			HistorySize(0).
			EnableSafeOverflow(true).
			Create()
		require.NoError(t, err)
		defer f.Close()

		sub, err := f.Subscriber().Create()
		require.NoError(t, err)
		defer sub.Close()
		pub, err := f.Publisher().Create()
		require.NoError(t, err)
		defer pub.Close()

		for _, v := range []uint64{0, 1, 25, 27} {
			n, err := pub.SendCopy(v)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		}
		assert.Equal(t, []uint64{25, 27}, receiveAll(t, sub))
	})
}

func TestHistoryIsDeliveredToLateSubscriber(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("late", opts...)).
			SubscriberBufferSize(2).
			HistorySize(2).
			EnableSafeOverflow(true).
			Create()
		require.NoError(t, err)
		defer f.Close()

		pub, err := f.Publisher().Create()
		require.NoError(t, err)
		defer pub.Close()
		for _, v := range []uint64{29, 32, 35} {
			n, err := pub.SendCopy(v)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		}

		sub, err := f.Subscriber().Create()
		require.NoError(t, err)
		defer sub.Close()
		require.NoError(t, pub.UpdateConnections())

		assert.Equal(t, []uint64{32, 35}, receiveAll(t, sub))
	})
}

func TestHistoryReplayIsTruncatedToBuffer(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("late-truncated", opts...)).
			SubscriberBufferSize(2).
			HistorySize(3).
			EnableSafeOverflow(true).
			Create()
		require.NoError(t, err)
		defer f.Close()

		pub, err := f.Publisher().Create()
		require.NoError(t, err)
		defer pub.Close()
		for _, v := range []uint64{29, 32, 35} {
			_, err := pub.SendCopy(v)
			require.NoError(t, err)
		}

		sub, err := f.Subscriber().Create()
		require.NoError(t, err)
		defer sub.Close()
		require.NoError(t, pub.UpdateConnections())

		assert.Equal(t, []uint64{32, 35}, receiveAll(t, sub))
	})
}

func TestHeldSampleOutlivesPublisher(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("outlive", opts...)).Create()
		require.NoError(t, err)
		defer f.Close()

		sub, err := f.Subscriber().Create()
		require.NoError(t, err)
		defer sub.Close()
		pub, err := f.Publisher().Create()
		require.NoError(t, err)
		id := pub.ID()

		n, err := pub.SendCopy(77)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		held, err := sub.Receive()
		require.NoError(t, err)
		require.NotNil(t, held)

		require.NoError(t, pub.Close())
		none, err := sub.Receive()
		require.NoError(t, err)
		assert.Nil(t, none)
		assert.Equal(t, 0, sub.NumberOfPublishers())

		assert.EqualValues(t, 77, *held.Payload())
		assert.Equal(t, id, held.Header().PublisherID())
		held.Release()
		held.Release()
		assert.Nil(t, held.conn.segment)
	})
}

func TestHeldSampleOutlivesSubscriberClose(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("outlive-sub", opts...)).Create()
		require.NoError(t, err)
		defer f.Close()

		sub, err := f.Subscriber().Create()
		require.NoError(t, err)
		pub, err := f.Publisher().Create()
		require.NoError(t, err)
		defer pub.Close()

		_, err = pub.SendCopy(5)
		require.NoError(t, err)
		held, err := sub.Receive()
		require.NoError(t, err)
		require.NotNil(t, held)

		require.NoError(t, sub.Close())
		assert.EqualValues(t, 5, *held.Payload())
		held.Release()
		assert.Nil(t, held.conn.segment)
	})
}

func TestDiscardStrategyDropsForFullSubscriber(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("discard", opts...)).
			SubscriberBufferSize(1).
			HistorySize(0).
			EnableSafeOverflow(false).
			Create()
		require.NoError(t, err)
		defer f.Close()

		sub, err := f.Subscriber().Create()
		require.NoError(t, err)
		defer sub.Close()
		pub, err := f.Publisher().UnableToDeliverStrategy(config.DiscardSample).Create()
		require.NoError(t, err)
		defer pub.Close()

		n, err := pub.SendCopy(1)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = pub.SendCopy(2)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		assert.Equal(t, []uint64{1}, receiveAll(t, sub))
	})
}

func TestBlockStrategyWaitsForSubscriber(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("block", opts...)).
			SubscriberBufferSize(1).
			HistorySize(0).
			EnableSafeOverflow(false).
			Create()
		require.NoError(t, err)
		defer f.Close()

		sub, err := f.Subscriber().Create()
		require.NoError(t, err)
		defer sub.Close()
		pub, err := f.Publisher().UnableToDeliverStrategy(config.Block).MaxLoanedSamples(1).Create()
		require.NoError(t, err)
		defer pub.Close()

		_, err = pub.SendCopy(1)
		require.NoError(t, err)

		var g errgroup.Group
		g.Go(func() error {
			_, err := pub.SendCopy(2)
			return err
		})

		var got []uint64
		require.Eventually(t, func() bool {
			s, err := sub.Receive()
			if err != nil || s == nil {
				return false
			}
			got = append(got, *s.Payload())
			s.Release()
			return len(got) == 2
		}, 5*time.Second, time.Millisecond)
		require.NoError(t, g.Wait())
		assert.Equal(t, []uint64{1, 2}, got)
	})
}

func TestBorrowLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("borrow", opts...)).
			SubscriberBufferSize(4).
			SubscriberMaxBorrowedSamples(2).
			HistorySize(0).
			Create()
		require.NoError(t, err)
		defer f.Close()

		sub, err := f.Subscriber().Create()
		require.NoError(t, err)
		defer sub.Close()
		pub, err := f.Publisher().Create()
		require.NoError(t, err)
		defer pub.Close()

		for v := range uint64(3) {
			_, err := pub.SendCopy(v)
			require.NoError(t, err)
		}

		first, err := sub.Receive()
		require.NoError(t, err)
		second, err := sub.Receive()
		require.NoError(t, err)
		_, err = sub.Receive()
		require.ErrorIs(t, err, ErrReceiveWouldExceedMaxBorrowValue)

		first.Release()
		third, err := sub.Receive()
		require.NoError(t, err)
		require.NotNil(t, third)
		assert.EqualValues(t, 2, *third.Payload())
		second.Release()
		third.Release()
	})
}

func TestReleasedChunksAreReused(t *testing.T) {
	opts := testOptions(t, ProcessLocal)
	f, err := PubSub[uint64](NewService("reuse", opts...)).
		MaxSubscribers(1).
		SubscriberBufferSize(2).
		HistorySize(1).
		Create()
	require.NoError(t, err)
	defer f.Close()

	sub, err := f.Subscriber().Create()
	require.NoError(t, err)
	defer sub.Close()
	pub, err := f.Publisher().Create()
	require.NoError(t, err)
	defer pub.Close()

	// far more samples than chunks: every chunk has to come back
	for v := range uint64(200) {
		n, err := pub.SendCopy(v)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, []uint64{v}, receiveAll(t, sub))
	}
	pub.RetrieveReturnedSamples()
	assert.EqualValues(t, 1, pub.segment.alloc.Used())
}

func TestSubscriberLeavingReturnsChunks(t *testing.T) {
	opts := testOptions(t, ProcessLocal)
	f, err := PubSub[uint64](NewService("leave", opts...)).HistorySize(0).Create()
	require.NoError(t, err)
	defer f.Close()

	pub, err := f.Publisher().Create()
	require.NoError(t, err)
	defer pub.Close()
	sub, err := f.Subscriber().Create()
	require.NoError(t, err)
	require.NoError(t, pub.UpdateConnections())

	_, err = pub.SendCopy(1)
	require.NoError(t, err)
	held, err := sub.Receive()
	require.NoError(t, err)
	require.NotNil(t, held)
	_, err = pub.SendCopy(2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, pub.segment.alloc.Used())

	require.NoError(t, sub.Close())
	held.Release()
	require.NoError(t, pub.UpdateConnections())
	assert.Equal(t, 0, pub.NumberOfSubscribers())
	assert.EqualValues(t, 0, pub.segment.alloc.Used())
}

func TestPublisherAndSubscriberLimits(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("limits", opts...)).
			MaxPublishers(1).
			MaxSubscribers(1).
			Create()
		require.NoError(t, err)
		defer f.Close()

		pub, err := f.Publisher().Create()
		require.NoError(t, err)
		defer pub.Close()
		_, err = f.Publisher().Create()
		require.ErrorIs(t, err, ErrExceedsMaxSupportedPublishers)

		sub, err := f.Subscriber().Create()
		require.NoError(t, err)
		_, err = f.Subscriber().Create()
		require.ErrorIs(t, err, ErrExceedsMaxSupportedSubscribers)

		require.NoError(t, sub.Close())
		again, err := f.Subscriber().Create()
		require.NoError(t, err)
		require.NoError(t, again.Close())
	})
}

func TestDegradationFailReportsBrokenConnection(t *testing.T) {
	opts := testOptions(t, ProcessLocal)
	f, err := PubSub[uint64](NewService("degraded", opts...)).Create()
	require.NoError(t, err)
	defer f.Close()

	var decided []UniqueSubscriberID
	pub, err := f.Publisher().DegradationPolicy(DegradationFunc(
		func(_ *StaticConfig, _ UniquePublisherID, sub UniqueSubscriberID) DegradationAction {
			decided = append(decided, sub)
			return DegradationFail
		})).Create()
	require.NoError(t, err)
	defer pub.Close()

	// a subscriber whose connection was set up with another buffer size
	ghost := UniqueSubscriberID{portID(protocol.PortID{Value: 42, Pid: 1})}
	b := connectionBuilder(f.svc, pub.ID(), ghost)
	b.BufferSize++
	receiver, err := b.CreateReceiver()
	require.NoError(t, err)
	defer receiver.Close()
	token, ok := f.svc.registries[1].Add(ghost.pid())
	require.True(t, ok)
	defer token.Release()

	sample, err := pub.Loan()
	require.NoError(t, err)
	_, err = sample.Send()
	require.ErrorIs(t, err, ErrSendConnectionError)
	require.ErrorIs(t, err, ErrFailedToEstablishConnection)
	assert.Equal(t, []UniqueSubscriberID{ghost}, decided)

	// the failed send returned its loan
	again, err := pub.Loan()
	require.NoError(t, err)
	again.Discard()
}
