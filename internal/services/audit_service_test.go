package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/smartspot/parking/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_Record(t *testing.T) {
	ctx := context.Background()

	t.Run("ids start at one and stay contiguous", func(t *testing.T) {
		env := newTestEnv(t)
		for i := 1; i <= 5; i++ {
			id, err := env.audit.Record(ctx, Event{PublicID: "150", Amount: 50, Kind: models.KindParkingFee})
			require.NoError(t, err)
			assert.Equal(t, int64(i), id)
		}
		counter := mustGet(t, env.store, colAuditLog, keyAuditCounter)
		assert.Equal(t, int64(5), counter.Int("last_log_id"))
	})

	t.Run("parking fee entries record an exit action with the fee", func(t *testing.T) {
		env := newTestEnv(t)
		ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
		id, err := env.audit.Record(ctx, Event{PublicID: "150", Amount: 75, Kind: models.KindParkingFee, Timestamp: ts})
		require.NoError(t, err)

		entry := mustGet(t, env.store, colAuditLog, "1")
		assert.Equal(t, int64(1), id)
		assert.Equal(t, "exit", entry.String("action"))
		assert.Equal(t, "150", entry.String("public_id"))
		assert.Equal(t, int64(75), entry.Int("fee_charged"))
		assert.Equal(t, "GATE_001", entry.String("gate_id"))

		// The transaction record commits with the entry.
		snaps, err := env.store.Query(ctx, colTransactions)
		require.NoError(t, err)
		require.Len(t, snaps, 1)
		assert.Equal(t, int64(75), snaps[0].Doc.Int("amount"))
		assert.Equal(t, models.KindParkingFee, snaps[0].Doc.String("kind"))
	})

	t.Run("concurrent recorders never share or skip an id", func(t *testing.T) {
		env := newTestEnv(t)
		const workers, perWorker = 5, 4

		var mu sync.Mutex
		var ids []int64
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					retryConflict(t, func() error {
						id, err := env.audit.Record(ctx, Event{PublicID: "150", Amount: 1, Kind: models.KindParkingFee})
						if err != nil {
							return err
						}
						mu.Lock()
						ids = append(ids, id)
						mu.Unlock()
						return nil
					})
				}
			}()
		}
		wg.Wait()

		require.Len(t, ids, workers*perWorker)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for i, id := range ids {
			assert.Equal(t, int64(i+1), id)
		}
	})
}

func TestAuditService_Tail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	t.Run("empty log", func(t *testing.T) {
		entries, err := env.audit.Tail(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("newest first, bounded by n", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, err := env.audit.Record(ctx, Event{PublicID: "150", Amount: int64(i), Kind: models.KindParkingFee})
			require.NoError(t, err)
		}
		entries, err := env.audit.Tail(ctx, 3)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, int64(5), entries[0].LogID)
		assert.Equal(t, int64(4), entries[1].LogID)
		assert.Equal(t, int64(3), entries[2].LogID)
	})
}
