package models

import (
	"time"

	"github.com/smartspot/parking/internal/store"
)

// KindParkingFee is the transaction kind produced by a settled exit.
const KindParkingFee = "parking_fee"

// AuditEntry is one numbered, immutable gate-action record. LogID comes from
// the strictly increasing facility counter.
type AuditEntry struct {
	LogID      int64
	Timestamp  time.Time
	Action     string
	PublicID   string
	FeeCharged int64
	GateID     string
}

func AuditEntryFromDoc(logID int64, doc store.Doc) AuditEntry {
	e := AuditEntry{
		LogID:      logID,
		Action:     doc.String("action"),
		PublicID:   doc.String("public_id"),
		FeeCharged: doc.Int("fee_charged"),
		GateID:     doc.String("gate_id"),
	}
	if t, ok := doc.Time("timestamp"); ok {
		e.Timestamp = t
	}
	return e
}

func (e AuditEntry) Doc() store.Doc {
	return store.Doc{
		"timestamp":   e.Timestamp.UTC().Format(time.RFC3339Nano),
		"action":      e.Action,
		"public_id":   e.PublicID,
		"fee_charged": e.FeeCharged,
		"gate_id":     e.GateID,
	}
}

// TransactionRecord is the wallet-history twin of an audit entry. It carries
// no ordering of its own; it commits together with the entry it belongs to.
type TransactionRecord struct {
	PublicID  string
	Amount    int64
	Kind      string
	Timestamp time.Time
}

func (r TransactionRecord) Doc() store.Doc {
	return store.Doc{
		"public_id": r.PublicID,
		"amount":    r.Amount,
		"kind":      r.Kind,
		"timestamp": r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
