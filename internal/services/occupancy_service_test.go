package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSlots = []string{"slot_1", "slot_2", "slot_3", "slot_4", "slot_5"}

type countingNotifier struct {
	mu    sync.Mutex
	calls []int
}

func (n *countingNotifier) AvailableChanged(_ context.Context, available int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, available)
}

func (n *countingNotifier) snapshot() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int(nil), n.calls...)
}

func TestOccupancyService_Initialize(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.occupancy.Initialize(ctx, testSlots))
	state, err := env.occupancy.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, state.Available)
	for _, id := range testSlots {
		assert.True(t, state.Free[id], "slot %s should start free", id)
	}

	// Re-running never resets live state.
	require.NoError(t, env.occupancy.ReportOccupancy(ctx, "slot_1", true))
	require.NoError(t, env.occupancy.Initialize(ctx, testSlots))
	state, err = env.occupancy.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, state.Available)
	assert.False(t, state.Free["slot_1"])
}

func TestOccupancyService_ReportOccupancy(t *testing.T) {
	ctx := context.Background()

	t.Run("flag and counter move together", func(t *testing.T) {
		env := newTestEnv(t)
		notifier := &countingNotifier{}
		tracker := NewOccupancyService(env.store, notifier)
		require.NoError(t, tracker.Initialize(ctx, testSlots))

		require.NoError(t, tracker.ReportOccupancy(ctx, "slot_2", true))
		state, err := tracker.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, state.Available)
		assert.False(t, state.Free["slot_2"])
		assert.Equal(t, []int{4}, notifier.snapshot())

		require.NoError(t, tracker.ReportOccupancy(ctx, "slot_2", false))
		state, err = tracker.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, state.Available)
		assert.True(t, state.Free["slot_2"])
		assert.Equal(t, []int{4, 5}, notifier.snapshot())
	})

	t.Run("redundant readings are dropped", func(t *testing.T) {
		env := newTestEnv(t)
		notifier := &countingNotifier{}
		tracker := NewOccupancyService(env.store, notifier)
		require.NoError(t, tracker.Initialize(ctx, testSlots))

		require.NoError(t, tracker.ReportOccupancy(ctx, "slot_3", true))
		for i := 0; i < 10; i++ {
			require.NoError(t, tracker.ReportOccupancy(ctx, "slot_3", true))
		}
		assert.Equal(t, []int{4}, notifier.snapshot())
		state, err := tracker.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, state.Available)
	})

	t.Run("free reading on an already free slot writes nothing", func(t *testing.T) {
		env := newTestEnv(t)
		notifier := &countingNotifier{}
		tracker := NewOccupancyService(env.store, notifier)
		require.NoError(t, tracker.Initialize(ctx, testSlots))

		require.NoError(t, tracker.ReportOccupancy(ctx, "slot_1", false))
		assert.Empty(t, notifier.snapshot())
	})

	t.Run("available always equals the count of free flags", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.occupancy.Initialize(ctx, testSlots))

		var wg sync.WaitGroup
		for i, id := range testSlots {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				occupied := i%2 == 0
				retryConflict(t, func() error {
					return env.occupancy.ReportOccupancy(ctx, id, occupied)
				})
				retryConflict(t, func() error {
					return env.occupancy.ReportOccupancy(ctx, id, !occupied)
				})
			}(i, id)
		}
		wg.Wait()

		state, err := env.occupancy.Snapshot(ctx)
		require.NoError(t, err)
		freeCount := 0
		for _, free := range state.Free {
			if free {
				freeCount++
			}
		}
		assert.Equal(t, freeCount, state.Available)
	})
}
