package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/smartspot/parking/internal/models"
	"github.com/smartspot/parking/internal/store"
)

// AuditService issues gap-free log ids and writes the audit/transaction
// record pair. The counter document and the records it numbers commit as one
// unit, so concurrent recorders can never share or skip an id: a loser of the
// read-set race retries with a fresh counter read, and ids spent by aborted
// attempts never become visible.
type AuditService struct {
	store  store.Store
	gateID string
}

// Event is one loggable gate action.
type Event struct {
	PublicID  string
	Amount    int64
	Kind      string
	Timestamp time.Time
}

func NewAuditService(st store.Store, gateID string) *AuditService {
	return &AuditService{store: st, gateID: gateID}
}

// Record writes one audit entry plus one transaction record and advances the
// counter, all-or-nothing. Returns the log id the entry committed under.
func (s *AuditService) Record(ctx context.Context, ev Event) (int64, error) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var logID int64
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		last := int64(0)
		counter, err := tx.Get(colAuditLog, keyAuditCounter)
		if err == nil {
			last = counter.Int("last_log_id")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		logID = last + 1

		action := ev.Kind
		fee := int64(0)
		if ev.Kind == models.KindParkingFee {
			action = "exit"
			fee = ev.Amount
		}
		entry := models.AuditEntry{
			LogID:      logID,
			Timestamp:  ts,
			Action:     action,
			PublicID:   ev.PublicID,
			FeeCharged: fee,
			GateID:     s.gateID,
		}
		record := models.TransactionRecord{
			PublicID:  ev.PublicID,
			Amount:    ev.Amount,
			Kind:      ev.Kind,
			Timestamp: ts,
		}
		tx.Set(colAuditLog, strconv.FormatInt(logID, 10), entry.Doc())
		tx.Create(colTransactions, record.Doc())
		tx.Set(colAuditLog, keyAuditCounter, store.Doc{"last_log_id": logID})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return logID, nil
}

// Tail returns up to n of the most recent committed entries, newest first.
func (s *AuditService) Tail(ctx context.Context, n int) ([]models.AuditEntry, error) {
	counter, err := s.store.Get(ctx, colAuditLog, keyAuditCounter)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	last := counter.Int("last_log_id")

	var entries []models.AuditEntry
	for id := last; id > 0 && len(entries) < n; id-- {
		doc, err := s.store.Get(ctx, colAuditLog, strconv.FormatInt(id, 10))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, models.AuditEntryFromDoc(id, doc))
	}
	return entries, nil
}
