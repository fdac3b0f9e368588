package zcipc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"gosuda.org/zcipc/config"
	"gosuda.org/zcipc/internal/logging"
	"gosuda.org/zcipc/internal/storage"
)

var backends = []Backend{ProcessLocal, ZeroCopy}

// testOptions isolates every test in its own directories and namespace.
func testOptions(t *testing.T, backend Backend, extra ...Option) []Option {
	t.Helper()
	cfg := config.Default()
	cfg.Global.RootPath = t.TempDir()
	cfg.Global.SharedMemoryDirectory = t.TempDir()
	cfg.Global.CreationTimeout = config.Duration(100 * time.Millisecond)
	opts := []Option{WithConfig(cfg), WithBackend(backend), WithLogger(logging.NewTestLogger())}
	return append(opts, extra...)
}

func forEachBackend(t *testing.T, fn func(t *testing.T, opts []Option)) {
	for _, b := range backends {
		t.Run(b.String(), func(t *testing.T) {
			fn(t, testOptions(t, b))
		})
	}
}

func TestServiceName(t *testing.T) {
	_, err := NewServiceName("")
	require.ErrorIs(t, err, ErrInvalidServiceName)

	long := make([]byte, MaxServiceNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = NewServiceName(string(long))
	require.ErrorIs(t, err, ErrInvalidServiceName)

	name, err := NewServiceName("robot/arm/position")
	require.NoError(t, err)
	assert.Equal(t, "robot/arm/position", name.String())
}

func TestServiceUUIDDependsOnNameOnly(t *testing.T) {
	a := NewService("camera/front")
	b := NewService("camera/front", WithBackend(ProcessLocal))
	c := NewService("camera/rear")

	assert.Equal(t, a.UUID(), b.UUID())
	assert.NotEqual(t, a.UUID(), c.UUID())
	assert.Len(t, a.UUID(), 32)
}

func TestCreateTwiceFails(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		first, err := PubSub[uint64](NewService("twice", opts...)).Create()
		require.NoError(t, err)
		defer first.Close()

		_, err = PubSub[uint64](NewService("twice", opts...)).Create()
		require.ErrorIs(t, err, ErrCreateAlreadyExists)
	})
}

func TestOpenMissingService(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		_, err := PubSub[uint64](NewService("missing", opts...)).Open()
		require.ErrorIs(t, err, ErrOpenDoesNotExist)
	})
}

func TestServiceIsRemovedWithLastReference(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		created, err := PubSub[uint64](NewService("last", opts...)).Create()
		require.NoError(t, err)
		opened, err := PubSub[uint64](NewService("last", opts...)).Open()
		require.NoError(t, err)

		require.NoError(t, created.Close())
		again, err := PubSub[uint64](NewService("last", opts...)).Open()
		require.NoError(t, err)

		require.NoError(t, opened.Close())
		require.NoError(t, again.Close())

		_, err = PubSub[uint64](NewService("last", opts...)).Open()
		require.ErrorIs(t, err, ErrOpenDoesNotExist)

		exists, err := DoesExist("last", PublishSubscribe, opts...)
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestPortsKeepServiceAlive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		factory, err := PubSub[uint64](NewService("alive", opts...)).Create()
		require.NoError(t, err)
		pub, err := factory.Publisher().Create()
		require.NoError(t, err)
		require.NoError(t, factory.Close())

		opened, err := PubSub[uint64](NewService("alive", opts...)).Open()
		require.NoError(t, err)
		assert.EqualValues(t, 1, opened.NumberOfPublishers())

		require.NoError(t, pub.Close())
		assert.EqualValues(t, 0, opened.NumberOfPublishers())
		require.NoError(t, opened.Close())

		_, err = PubSub[uint64](NewService("alive", opts...)).Open()
		require.ErrorIs(t, err, ErrOpenDoesNotExist)
	})
}

func TestConcurrentOpenOrCreate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		const n = 8
		factories := make([]*PortFactoryPubSub[uint64], n)

		var g errgroup.Group
		for i := range n {
			g.Go(func() error {
				f, err := PubSub[uint64](NewService("race", opts...)).OpenOrCreate()
				factories[i] = f
				return err
			})
		}
		require.NoError(t, g.Wait())

		for _, f := range factories {
			assert.Equal(t, factories[0].UUID(), f.UUID())
		}
		for _, f := range factories {
			require.NoError(t, f.Close())
		}

		_, err := PubSub[uint64](NewService("race", opts...)).Open()
		require.ErrorIs(t, err, ErrOpenDoesNotExist)
	})
}

func TestOpenIncompatibleTypes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("types", opts...)).Create()
		require.NoError(t, err)
		defer f.Close()

		_, err = PubSub[uint32](NewService("types", opts...)).Open()
		require.ErrorIs(t, err, ErrOpenIncompatibleTypes)
		_, err = PubSub[int64](NewService("types", opts...)).OpenOrCreate()
		require.ErrorIs(t, err, ErrOpenIncompatibleTypes)
	})
}

func TestOpenIncompatibleMessagingPattern(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("pattern", opts...)).Create()
		require.NoError(t, err)
		defer f.Close()

		_, err = NewService("pattern", opts...).Event().Open()
		require.ErrorIs(t, err, ErrOpenIncompatibleMessagingPattern)
	})
}

func TestOpenVerifiesRequestedCapacities(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("caps", opts...)).
			MaxPublishers(2).
			MaxSubscribers(3).
			Create()
		require.NoError(t, err)
		defer f.Close()

		_, err = PubSub[uint64](NewService("caps", opts...)).MaxPublishers(3).Open()
		require.ErrorIs(t, err, ErrOpenDoesNotSupportRequestedAmountOfPublishers)
		_, err = PubSub[uint64](NewService("caps", opts...)).MaxSubscribers(4).Open()
		require.ErrorIs(t, err, ErrOpenDoesNotSupportRequestedAmountOfSubscribers)

		smaller, err := PubSub[uint64](NewService("caps", opts...)).MaxSubscribers(1).Open()
		require.NoError(t, err)
		assert.EqualValues(t, 3, smaller.StaticConfig().MaxSubscribers)
		require.NoError(t, smaller.Close())
	})
}

func TestCreateRejectsHistoryLargerThanBuffer(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		_, err := PubSub[uint64](NewService("history", opts...)).
			EnableSafeOverflow(false).
			HistorySize(3).
			SubscriberBufferSize(2).
			Create()
		require.ErrorIs(t, err, ErrCreateSubscriberBufferMustBeLargerThanHistorySize)

		f, err := PubSub[uint64](NewService("history", opts...)).
			EnableSafeOverflow(true).
			HistorySize(3).
			SubscriberBufferSize(2).
			Create()
		require.NoError(t, err)
		require.NoError(t, f.Close())
	})
}

func TestZeroSettingsAreRaised(t *testing.T) {
	opts := testOptions(t, ProcessLocal)
	f, err := PubSub[uint64](NewService("zeros", opts...)).
		MaxPublishers(0).
		MaxSubscribers(0).
		SubscriberBufferSize(0).
		SubscriberMaxBorrowedSamples(0).
		HistorySize(0).
		Create()
	require.NoError(t, err)
	defer f.Close()

	cfg := f.StaticConfig()
	assert.EqualValues(t, 1, cfg.MaxPublishers)
	assert.EqualValues(t, 1, cfg.MaxSubscribers)
	assert.EqualValues(t, 1, cfg.SubscriberBufferSize)
	assert.EqualValues(t, 1, cfg.SubscriberMaxBorrowedSamples)
}

func TestOpenHangsInCreation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		b := NewService("stuck", opts...)
		locked, err := b.opts.resources().static.Create(b.staticName())
		require.NoError(t, err)
		defer locked.Abort()

		_, err = PubSub[uint64](b).Open()
		require.ErrorIs(t, err, ErrOpenHangsInCreation)
		_, err = PubSub[uint64](b).Create()
		require.ErrorIs(t, err, ErrCreateIsBeingCreatedByAnotherInstance)

		exists, err := DoesExist("stuck", PublishSubscribe, opts...)
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestOpenCorruptedStaticConfig(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		b := NewService("corrupt", opts...)
		locked, err := b.opts.resources().static.Create(b.staticName())
		require.NoError(t, err)
		require.NoError(t, locked.Unlock([]byte("not = [toml")))
		defer b.opts.resources().static.Remove(b.staticName())

		_, err = PubSub[uint64](b).Open()
		require.ErrorIs(t, err, ErrOpenServiceInCorruptedState)
	})
}

func TestCreateWithLeftoverDynamicStorage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		b := NewService("leftover", opts...)
		mem, err := b.opts.resources().shm.Create(b.dynamicName(), 128)
		require.NoError(t, err)
		defer mem.Close()

		_, err = PubSub[uint64](b).Create()
		require.ErrorIs(t, err, ErrCreateCorrupted)

		// the failed attempt must not leave a locked static config behind
		_, state, _ := b.probe(b.opts.resources(), PublishSubscribe)
		assert.Equal(t, absent, state)
	})
}

func TestOpenServiceBeingTornDown(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts []Option) {
		f, err := PubSub[uint64](NewService("teardown", opts...)).Create()
		require.NoError(t, err)
		// the last owner dropped its reference but did not remove anything yet
		require.True(t, f.svc.dynamic.DecrementReferenceCounter())

		_, err = PubSub[uint64](NewService("teardown", opts...)).Open()
		require.ErrorIs(t, err, ErrOpenUnableToOpenDynamicServiceInformation)
		require.ErrorIs(t, err, storage.ErrMarkedForDestruction)
		assert.NotErrorIs(t, err, ErrOpenServiceInCorruptedState)

		f.svc.dynamic.AcquireOwnership()
		require.NoError(t, f.svc.dynamic.Close())
		require.NoError(t, f.svc.res.static.Remove(f.svc.builder.staticName()))
	})
}
