package services

import (
	"context"
	"sync"
	"testing"

	"github.com/smartspot/parking/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerService_Transfer(t *testing.T) {
	ctx := context.Background()

	t.Run("moves funds and conserves the total", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ledger.EnsureOperatorAccount(ctx))
		account, err := env.directory.EnsureAccount(ctx, "150")
		require.NoError(t, err)

		require.NoError(t, env.ledger.Transfer(ctx, account.Key, "operator", 75))

		balance, err := env.ledger.GetBalance(ctx, "150")
		require.NoError(t, err)
		assert.Equal(t, int64(925), balance)

		operator, err := env.ledger.OperatorAccount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(75), operator.Balance)
		assert.Equal(t, int64(75), operator.TotalCollected)
		assert.Equal(t, int64(1000), balance+operator.Balance)
	})

	t.Run("insufficient balance rejects with zero mutation", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ledger.EnsureOperatorAccount(ctx))
		account, err := env.directory.EnsureAccount(ctx, "150")
		require.NoError(t, err)
		require.NoError(t, env.store.Update(ctx, colAccounts, account.Key, map[string]any{"wallet.balance": int64(20)}))

		err = env.ledger.Transfer(ctx, account.Key, "operator", 50)
		var insufficient *InsufficientFundsError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, int64(50), insufficient.Required)
		assert.Equal(t, int64(20), insufficient.Available)

		balance, err := env.ledger.GetBalance(ctx, "150")
		require.NoError(t, err)
		assert.Equal(t, int64(20), balance)
		operator, err := env.ledger.OperatorAccount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), operator.Balance)
	})

	t.Run("negative amount is refused", func(t *testing.T) {
		env := newTestEnv(t)
		account, err := env.directory.EnsureAccount(ctx, "150")
		require.NoError(t, err)
		assert.Error(t, env.ledger.Transfer(ctx, account.Key, "operator", -1))
	})

	t.Run("zero fee transfer is a valid settlement", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ledger.EnsureOperatorAccount(ctx))
		account, err := env.directory.EnsureAccount(ctx, "150")
		require.NoError(t, err)
		require.NoError(t, env.ledger.Transfer(ctx, account.Key, "operator", 0))
		balance, err := env.ledger.GetBalance(ctx, "150")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), balance)
	})

	t.Run("missing sender account", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.ledger.Transfer(ctx, "ghost", "operator", 10)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("first fee creates the operator wallet by increment", func(t *testing.T) {
		env := newTestEnv(t)
		account, err := env.directory.EnsureAccount(ctx, "150")
		require.NoError(t, err)

		// No operator account provisioned; the transfer upserts it.
		require.NoError(t, env.ledger.Transfer(ctx, account.Key, "operator", 75))
		doc := mustGet(t, env.store, colAccounts, "operator")
		assert.Equal(t, int64(75), doc.Int("wallet.balance"))
		assert.Equal(t, int64(75), doc.Int("wallet.total_collected"))
	})

	t.Run("concurrent transfers settle sequentially", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.ledger.EnsureOperatorAccount(ctx))
		account, err := env.directory.EnsureAccount(ctx, "150")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				retryConflict(t, func() error {
					return env.ledger.Transfer(ctx, account.Key, "operator", 10)
				})
			}()
		}
		wg.Wait()

		balance, err := env.ledger.GetBalance(ctx, "150")
		require.NoError(t, err)
		assert.Equal(t, int64(900), balance)
		operator, err := env.ledger.OperatorAccount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(100), operator.Balance)
		assert.Equal(t, int64(100), operator.TotalCollected)
	})
}

func TestLedgerService_EnsureOperatorAccount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.ledger.EnsureOperatorAccount(ctx))
	operator, err := env.ledger.OperatorAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.OperatorPublicID, operator.PublicID)
	assert.Equal(t, int64(0), operator.Balance)

	// Idempotent: a second call never resets collected fees.
	account, err := env.directory.EnsureAccount(ctx, "150")
	require.NoError(t, err)
	require.NoError(t, env.ledger.Transfer(ctx, account.Key, "operator", 75))
	require.NoError(t, env.ledger.EnsureOperatorAccount(ctx))

	operator, err = env.ledger.OperatorAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(75), operator.Balance)
	assert.Equal(t, int64(75), operator.TotalCollected)
}
