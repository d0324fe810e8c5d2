package models

import (
	"sort"

	"github.com/smartspot/parking/internal/store"
)

// SlotState is the facility-wide occupancy snapshot. A true flag means the
// slot is free; Available must equal the count of true flags in the same
// snapshot.
type SlotState struct {
	Free      map[string]bool
	Available int
}

func SlotStateFromDoc(doc store.Doc) SlotState {
	state := SlotState{Free: make(map[string]bool)}
	for field, v := range doc {
		if free, ok := v.(bool); ok {
			state.Free[field] = free
		}
	}
	state.Available = int(doc.Int("available"))
	return state
}

func (s SlotState) Doc() store.Doc {
	doc := store.Doc{"available": int64(s.Available)}
	for slotID, free := range s.Free {
		doc[slotID] = free
	}
	return doc
}

// SlotIDs returns the slot ids in stable order.
func (s SlotState) SlotIDs() []string {
	ids := make([]string, 0, len(s.Free))
	for id := range s.Free {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
