package models

import (
	"time"

	"github.com/smartspot/parking/internal/store"
)

const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// Session is one entry-to-exit parking visit. Completed sessions are never
// deleted; they form the per-user parking history.
type Session struct {
	Key        string
	PublicID   string
	Status     string
	EntryTime  time.Time
	ExitTime   *time.Time
	FeeCharged *int64
}

func SessionFromDoc(key string, doc store.Doc) Session {
	s := Session{
		Key:      key,
		PublicID: doc.String("public_id"),
		Status:   doc.String("status"),
	}
	if t, ok := doc.Time("entry_time"); ok {
		s.EntryTime = t
	}
	if t, ok := doc.Time("exit_time"); ok {
		s.ExitTime = &t
	}
	if _, ok := doc.Lookup("fee_charged"); ok {
		fee := doc.Int("fee_charged")
		s.FeeCharged = &fee
	}
	return s
}

func (s Session) Doc() store.Doc {
	doc := store.Doc{
		"public_id":  s.PublicID,
		"status":     s.Status,
		"entry_time": s.EntryTime.UTC().Format(time.RFC3339Nano),
	}
	if s.ExitTime != nil {
		doc["exit_time"] = s.ExitTime.UTC().Format(time.RFC3339Nano)
	}
	if s.FeeCharged != nil {
		doc["fee_charged"] = *s.FeeCharged
	}
	return doc
}
