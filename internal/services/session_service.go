package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/smartspot/parking/internal/models"
	"github.com/smartspot/parking/internal/store"
)

// SessionService drives the entry/exit lifecycle and holds the
// one-active-session-per-user invariant.
type SessionService struct {
	store       store.Store
	directory   *DirectoryService
	ledger      *LedgerService
	audit       *AuditService
	ratePerHour int64
}

// ExitReceipt summarizes a settled exit for the operator surface.
type ExitReceipt struct {
	SessionKey string    `json:"session_key"`
	PublicID   string    `json:"public_id"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	Fee        int64     `json:"fee"`
	Balance    int64     `json:"balance"`
	LogID      int64     `json:"log_id"`
}

func NewSessionService(st store.Store, directory *DirectoryService, ledger *LedgerService, audit *AuditService, ratePerHour int64) *SessionService {
	return &SessionService{
		store:       st,
		directory:   directory,
		ledger:      ledger,
		audit:       audit,
		ratePerHour: ratePerHour,
	}
}

// ActiveSession finds the unique active session for a user. More than one is
// a pre-existing data anomaly: it is reported, never repaired here.
func (s *SessionService) ActiveSession(ctx context.Context, publicID string) (models.Session, error) {
	snaps, err := s.store.Query(ctx, colSessions,
		store.Filter{Field: "public_id", Value: publicID},
		store.Filter{Field: "status", Value: models.SessionActive})
	if err != nil {
		return models.Session{}, err
	}
	switch len(snaps) {
	case 0:
		return models.Session{}, ErrNoActiveSession
	case 1:
		return models.SessionFromDoc(snaps[0].Key, snaps[0].Doc), nil
	default:
		log.Printf("[SESSION] Anomaly: %d active sessions for user %s", len(snaps), publicID)
		return models.Session{}, ErrMultipleActiveSessions
	}
}

// RecordEntry provisions the account if needed and opens a session. The
// check-then-create races through the per-user gate marker: the marker read
// joins the transaction's read set, so two concurrent entries cannot both
// commit a fresh session.
func (s *SessionService) RecordEntry(ctx context.Context, publicID string) (models.Session, error) {
	if _, err := s.directory.EnsureAccount(ctx, publicID); err != nil {
		return models.Session{}, err
	}

	// Surface pre-existing anomalies before touching anything.
	switch _, err := s.ActiveSession(ctx, publicID); {
	case err == nil:
		return models.Session{}, ErrSessionAlreadyActive
	case errors.Is(err, ErrMultipleActiveSessions):
		return models.Session{}, err
	case !errors.Is(err, ErrNoActiveSession):
		return models.Session{}, err
	}

	session := models.Session{
		PublicID:  publicID,
		Status:    models.SessionActive,
		EntryTime: time.Now().UTC(),
	}
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		marker, err := tx.Get(colGateMarkers, publicID)
		if err == nil {
			if active, _ := marker.Bool("active"); active {
				return ErrSessionAlreadyActive
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		session.Key = tx.Create(colSessions, session.Doc())
		tx.Set(colGateMarkers, publicID, store.Doc{
			"active":      true,
			"session_key": session.Key,
			"entry_time":  session.EntryTime.Format(time.RFC3339Nano),
		})
		return nil
	})
	if err != nil {
		return models.Session{}, err
	}
	log.Printf("[SESSION] Entry recorded for user %s at %s", publicID, session.EntryTime.Format(time.RFC3339))
	return session, nil
}

// RecordExit settles the active session. An insufficient balance rejects the
// exit with zero mutation, leaving the session active for a later retry.
// Once the ledger transfer commits, the audit write and the session
// finalization follow in causal order; a failure there is flagged for manual
// reconciliation instead of rolling the transfer back.
func (s *SessionService) RecordExit(ctx context.Context, publicID string) (ExitReceipt, error) {
	session, err := s.ActiveSession(ctx, publicID)
	if err != nil {
		return ExitReceipt{}, err
	}
	account, err := s.directory.FindByPublicID(ctx, publicID)
	if err != nil {
		return ExitReceipt{}, err
	}

	exitTime := time.Now().UTC()
	fee := s.Fee(session.EntryTime, exitTime)

	if err := s.ledger.Transfer(ctx, account.Key, s.ledger.OperatorKey(), fee); err != nil {
		return ExitReceipt{}, err
	}

	receipt := ExitReceipt{
		SessionKey: session.Key,
		PublicID:   publicID,
		EntryTime:  session.EntryTime,
		ExitTime:   exitTime,
		Fee:        fee,
		Balance:    account.Balance - fee,
	}

	logID, err := s.audit.Record(ctx, Event{
		PublicID:  publicID,
		Amount:    fee,
		Kind:      models.KindParkingFee,
		Timestamp: exitTime,
	})
	if err != nil {
		s.logReconcile(publicID, session.Key, fee, "audit_log", err)
		return receipt, fmt.Errorf("fee %d charged for user %s but audit logging failed: %w", fee, publicID, err)
	}
	receipt.LogID = logID

	err = s.store.RunTransaction(ctx, func(tx store.Tx) error {
		if _, err := tx.Get(colSessions, session.Key); err != nil {
			return err
		}
		tx.Update(colSessions, session.Key, store.Doc{
			"status":      models.SessionCompleted,
			"exit_time":   exitTime.Format(time.RFC3339Nano),
			"fee_charged": fee,
		})
		tx.Set(colGateMarkers, publicID, store.Doc{"active": false, "session_key": session.Key})
		return nil
	})
	if err != nil {
		s.logReconcile(publicID, session.Key, fee, "session_finalize", err)
		return receipt, fmt.Errorf("fee %d charged for user %s but session finalization failed: %w", fee, publicID, err)
	}

	log.Printf("[SESSION] Exit recorded for user %s, fee %d, balance %d", publicID, fee, receipt.Balance)
	return receipt, nil
}

// History lists every session for a user, newest entry first.
func (s *SessionService) History(ctx context.Context, publicID string) ([]models.Session, error) {
	snaps, err := s.store.Query(ctx, colSessions, store.Filter{Field: "public_id", Value: publicID})
	if err != nil {
		return nil, err
	}
	sessions := make([]models.Session, 0, len(snaps))
	for _, snap := range snaps {
		sessions = append(sessions, models.SessionFromDoc(snap.Key, snap.Doc))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].EntryTime.After(sessions[j].EntryTime)
	})
	return sessions, nil
}

// LatestCompleted returns the most recently settled session for a user.
func (s *SessionService) LatestCompleted(ctx context.Context, publicID string) (models.Session, error) {
	snaps, err := s.store.Query(ctx, colSessions,
		store.Filter{Field: "public_id", Value: publicID},
		store.Filter{Field: "status", Value: models.SessionCompleted})
	if err != nil {
		return models.Session{}, err
	}
	if len(snaps) == 0 {
		return models.Session{}, ErrNoActiveSession
	}
	latest := models.SessionFromDoc(snaps[0].Key, snaps[0].Doc)
	for _, snap := range snaps[1:] {
		candidate := models.SessionFromDoc(snap.Key, snap.Doc)
		if candidate.ExitTime != nil && (latest.ExitTime == nil || candidate.ExitTime.After(*latest.ExitTime)) {
			latest = candidate
		}
	}
	return latest, nil
}

// Fee prices a stay: wall-clock hours at the hourly rate, rounded to the
// nearest unit, both timestamps normalized to UTC first.
func (s *SessionService) Fee(entry, exit time.Time) int64 {
	hours := exit.UTC().Sub(entry.UTC()).Hours()
	return int64(math.Round(hours * float64(s.ratePerHour)))
}

// reconcileEvent marks the accepted non-atomic window between a committed
// transfer and the writes that follow it. These lines are the hook for
// out-of-band reconciliation.
type reconcileEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	PublicID   string    `json:"public_id"`
	SessionKey string    `json:"session_key"`
	Fee        int64     `json:"fee"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error"`
}

func (s *SessionService) logReconcile(publicID, sessionKey string, fee int64, stage string, err error) {
	data, _ := json.Marshal(reconcileEvent{
		Timestamp:  time.Now().UTC(),
		PublicID:   publicID,
		SessionKey: sessionKey,
		Fee:        fee,
		Stage:      stage,
		Error:      err.Error(),
	})
	log.Printf("[RECONCILE] %s", data)
}
