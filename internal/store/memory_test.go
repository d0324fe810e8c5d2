package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBasicOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	t.Run("get missing document", func(t *testing.T) {
		_, err := m.Get(ctx, "accounts", "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, m.Set(ctx, "accounts", "a1", Doc{"name": "User 150"}))
		doc, err := m.Get(ctx, "accounts", "a1")
		require.NoError(t, err)
		assert.Equal(t, "User 150", doc.String("name"))
	})

	t.Run("get returns a copy", func(t *testing.T) {
		doc, err := m.Get(ctx, "accounts", "a1")
		require.NoError(t, err)
		doc["name"] = "mutated"
		doc2, err := m.Get(ctx, "accounts", "a1")
		require.NoError(t, err)
		assert.Equal(t, "User 150", doc2.String("name"))
	})

	t.Run("update dotted path", func(t *testing.T) {
		require.NoError(t, m.Set(ctx, "accounts", "a2", Doc{
			"wallet": map[string]any{"balance": int64(1000)},
		}))
		require.NoError(t, m.Update(ctx, "accounts", "a2", Doc{"wallet.balance": int64(925)}))
		doc, err := m.Get(ctx, "accounts", "a2")
		require.NoError(t, err)
		assert.Equal(t, int64(925), doc.Int("wallet.balance"))
	})

	t.Run("update missing document", func(t *testing.T) {
		err := m.Update(ctx, "accounts", "ghost", Doc{"x": int64(1)})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryIncrement(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	t.Run("increment creates absent document", func(t *testing.T) {
		require.NoError(t, m.Increment(ctx, "accounts", "op", "wallet.balance", 75))
		doc, err := m.Get(ctx, "accounts", "op")
		require.NoError(t, err)
		assert.Equal(t, int64(75), doc.Int("wallet.balance"))
	})

	t.Run("increments accumulate", func(t *testing.T) {
		require.NoError(t, m.Increment(ctx, "accounts", "op", "wallet.balance", 25))
		require.NoError(t, m.Increment(ctx, "accounts", "op", "wallet.balance", -10))
		doc, err := m.Get(ctx, "accounts", "op")
		require.NoError(t, err)
		assert.Equal(t, int64(90), doc.Int("wallet.balance"))
	})
}

func TestMemoryQuery(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "sessions", "s1", Doc{"public_id": "150", "status": "active"}))
	require.NoError(t, m.Set(ctx, "sessions", "s2", Doc{"public_id": "150", "status": "completed"}))
	require.NoError(t, m.Set(ctx, "sessions", "s3", Doc{"public_id": "200", "status": "active"}))

	t.Run("single filter", func(t *testing.T) {
		snaps, err := m.Query(ctx, "sessions", Filter{Field: "public_id", Value: "150"})
		require.NoError(t, err)
		assert.Len(t, snaps, 2)
	})

	t.Run("conjunctive filters", func(t *testing.T) {
		snaps, err := m.Query(ctx, "sessions",
			Filter{Field: "public_id", Value: "150"},
			Filter{Field: "status", Value: "active"})
		require.NoError(t, err)
		require.Len(t, snaps, 1)
		assert.Equal(t, "s1", snaps[0].Key)
	})

	t.Run("no matches", func(t *testing.T) {
		snaps, err := m.Query(ctx, "sessions", Filter{Field: "public_id", Value: "999"})
		require.NoError(t, err)
		assert.Empty(t, snaps)
	})

	t.Run("numeric filter tolerates json float decoding", func(t *testing.T) {
		require.NoError(t, m.Set(ctx, "counters", "c", Doc{"n": float64(7)}))
		snaps, err := m.Query(ctx, "counters", Filter{Field: "n", Value: int64(7)})
		require.NoError(t, err)
		assert.Len(t, snaps, 1)
	})
}

func TestMemoryTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("staged writes commit together", func(t *testing.T) {
		m := NewMemory()
		err := m.RunTransaction(ctx, func(tx Tx) error {
			tx.Set("audit_log", "1", Doc{"action": "exit"})
			tx.Set("audit_log", "counter", Doc{"last_log_id": int64(1)})
			return nil
		})
		require.NoError(t, err)

		entry, err := m.Get(ctx, "audit_log", "1")
		require.NoError(t, err)
		assert.Equal(t, "exit", entry.String("action"))
		counter, err := m.Get(ctx, "audit_log", "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(1), counter.Int("last_log_id"))
	})

	t.Run("error aborts without writing", func(t *testing.T) {
		m := NewMemory()
		boom := errors.New("boom")
		err := m.RunTransaction(ctx, func(tx Tx) error {
			tx.Set("accounts", "a", Doc{"x": int64(1)})
			return boom
		})
		assert.ErrorIs(t, err, boom)
		_, err = m.Get(ctx, "accounts", "a")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stale read set retries with fresh state", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.Set(ctx, "counters", "c", Doc{"n": int64(0)}))

		attempts := 0
		err := m.RunTransaction(ctx, func(tx Tx) error {
			attempts++
			doc, err := tx.Get("counters", "c")
			if err != nil {
				return err
			}
			if attempts == 1 {
				// Interleaved writer invalidates the first attempt.
				require.NoError(t, m.Set(ctx, "counters", "c", Doc{"n": int64(100)}))
			}
			tx.Set("counters", "c", Doc{"n": doc.Int("n") + 1})
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)

		doc, err := m.Get(ctx, "counters", "c")
		require.NoError(t, err)
		assert.Equal(t, int64(101), doc.Int("n"))
	})

	t.Run("exhausted retries surface as conflict", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.Set(ctx, "counters", "c", Doc{"n": int64(0)}))

		err := m.RunTransaction(ctx, func(tx Tx) error {
			doc, err := tx.Get("counters", "c")
			if err != nil {
				return err
			}
			// Every attempt loses to this interleaved write.
			require.NoError(t, m.Set(ctx, "counters", "c", Doc{"n": doc.Int("n")}))
			tx.Set("counters", "c", Doc{"n": doc.Int("n") + 1})
			return nil
		})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("update of missing document fails whole transaction", func(t *testing.T) {
		m := NewMemory()
		err := m.RunTransaction(ctx, func(tx Tx) error {
			tx.Set("accounts", "a", Doc{"x": int64(1)})
			tx.Update("accounts", "ghost", Doc{"x": int64(2)})
			return nil
		})
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = m.Get(ctx, "accounts", "a")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create returns distinct keys", func(t *testing.T) {
		m := NewMemory()
		var k1, k2 string
		err := m.RunTransaction(ctx, func(tx Tx) error {
			k1 = tx.Create("transactions", Doc{"amount": int64(50)})
			k2 = tx.Create("transactions", Doc{"amount": int64(75)})
			return nil
		})
		require.NoError(t, err)
		assert.NotEqual(t, k1, k2)
		snaps, err := m.Query(ctx, "transactions")
		require.NoError(t, err)
		assert.Len(t, snaps, 2)
	})

	t.Run("increment inside transaction upserts", func(t *testing.T) {
		m := NewMemory()
		err := m.RunTransaction(ctx, func(tx Tx) error {
			tx.Increment("accounts", "op", "wallet.balance", 75)
			tx.Increment("accounts", "op", "wallet.total_collected", 75)
			return nil
		})
		require.NoError(t, err)
		doc, err := m.Get(ctx, "accounts", "op")
		require.NoError(t, err)
		assert.Equal(t, int64(75), doc.Int("wallet.balance"))
		assert.Equal(t, int64(75), doc.Int("wallet.total_collected"))
	})
}

func TestMemoryConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Increment(ctx, "accounts", "op", "wallet.balance", 1))
		}()
	}
	wg.Wait()

	doc, err := m.Get(ctx, "accounts", "op")
	require.NoError(t, err)
	assert.Equal(t, int64(50), doc.Int("wallet.balance"))
}

func TestMemoryBatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	b := m.Batch()
	b.Set("occupancy", "slots", Doc{"slot_1": true, "available": int64(1)})
	b.Create("transactions", Doc{"amount": int64(10)})
	require.NoError(t, b.Commit(ctx))

	doc, err := m.Get(ctx, "occupancy", "slots")
	require.NoError(t, err)
	free, ok := doc.Bool("slot_1")
	assert.True(t, ok)
	assert.True(t, free)

	snaps, err := m.Query(ctx, "transactions")
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}
