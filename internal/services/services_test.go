package services

import (
	"context"
	"errors"
	"testing"

	"github.com/smartspot/parking/internal/store"
	"github.com/stretchr/testify/require"
)

// testEnv wires the full service graph over the in-memory store with the
// facility defaults: rate 50/hour, initial balance 1000, ids 100-999.
type testEnv struct {
	store     *store.Memory
	directory *DirectoryService
	ledger    *LedgerService
	audit     *AuditService
	occupancy *OccupancyService
	sessions  *SessionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m := store.NewMemory()
	directory := NewDirectoryService(m, 100, 999, 1000)
	ledger := NewLedgerService(m, directory, "operator")
	audit := NewAuditService(m, "GATE_001")
	return &testEnv{
		store:     m,
		directory: directory,
		ledger:    ledger,
		audit:     audit,
		occupancy: NewOccupancyService(m),
		sessions:  NewSessionService(m, directory, ledger, audit, 50),
	}
}

// retryConflict re-runs fn until it stops losing optimistic races, the way a
// gate operator would rescan. Any other error fails the test.
func retryConflict(t *testing.T, fn func() error) {
	t.Helper()
	for {
		err := fn()
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		require.NoError(t, err)
		return
	}
}

func mustGet(t *testing.T, m *store.Memory, collection, key string) store.Doc {
	t.Helper()
	doc, err := m.Get(context.Background(), collection, key)
	require.NoError(t, err)
	return doc
}
