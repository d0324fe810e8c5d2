package services

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/smartspot/parking/internal/models"
	"github.com/smartspot/parking/internal/store"
)

// AvailabilityNotifier receives the available-slot count after each committed
// occupancy change. Notifications are advisory; failures never affect state.
type AvailabilityNotifier interface {
	AvailableChanged(ctx context.Context, available int)
}

// OccupancyService keeps the per-slot flags and the derived available counter
// consistent. The two are only ever written together, inside one store
// transaction, so no reader can observe them disagreeing.
type OccupancyService struct {
	store     store.Store
	notifiers []AvailabilityNotifier

	mu    sync.Mutex
	cache map[string]bool // slot id -> last committed free flag
}

func NewOccupancyService(st store.Store, notifiers ...AvailabilityNotifier) *OccupancyService {
	return &OccupancyService{
		store:     st,
		notifiers: notifiers,
		cache:     make(map[string]bool),
	}
}

// Initialize creates the slots document with every slot free. Idempotent:
// existing state is never overwritten.
func (s *OccupancyService) Initialize(ctx context.Context, slotIDs []string) error {
	return s.store.RunTransaction(ctx, func(tx store.Tx) error {
		_, err := tx.Get(colOccupancy, keySlots)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		state := models.SlotState{Free: make(map[string]bool, len(slotIDs)), Available: len(slotIDs)}
		for _, id := range slotIDs {
			state.Free[id] = true
		}
		tx.Set(colOccupancy, keySlots, state.Doc())
		log.Printf("[OCCUPANCY] Initialized %d slots, all free", len(slotIDs))
		return nil
	})
}

// ReportOccupancy applies one sensor reading. Readings matching the local
// cache are dropped without store traffic. A real transition re-reads the
// slot flag inside the transaction and moves the available counter only if
// the persisted flag actually flips; flag and counter commit together. The
// cache updates only after the commit, so a failed write is retried by the
// next reading.
func (s *OccupancyService) ReportOccupancy(ctx context.Context, slotID string, occupied bool) error {
	free := !occupied
	s.mu.Lock()
	cached, known := s.cache[slotID]
	s.mu.Unlock()
	if known && cached == free {
		return nil
	}

	var available int64
	var changed bool
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		changed = false
		doc, err := tx.Get(colOccupancy, keySlots)
		if err != nil {
			return err
		}
		current, ok := doc.Bool(slotID)
		if !ok {
			current = true // unknown slots start free
		}
		available = doc.Int("available")
		if current == free {
			return nil
		}
		if free {
			available++
		} else {
			available--
		}
		changed = true
		tx.Update(colOccupancy, keySlots, store.Doc{slotID: free, "available": available})
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[slotID] = free
	s.mu.Unlock()

	if changed {
		status := "occupied"
		if free {
			status = "free"
		}
		log.Printf("[OCCUPANCY] Slot %s now %s, %d available", slotID, status, available)
		for _, n := range s.notifiers {
			n.AvailableChanged(ctx, int(available))
		}
	}
	return nil
}

// Snapshot returns the consistent slot-state view for the status surface.
func (s *OccupancyService) Snapshot(ctx context.Context) (models.SlotState, error) {
	doc, err := s.store.Get(ctx, colOccupancy, keySlots)
	if err != nil {
		return models.SlotState{}, err
	}
	return models.SlotStateFromDoc(doc), nil
}
