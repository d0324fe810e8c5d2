package models

import (
	"time"

	"github.com/smartspot/parking/internal/store"
)

// OperatorPublicID marks the singleton operator account that collects fees.
const OperatorPublicID = "OPERATOR"

// Account is a wallet-holding user of the facility. PublicID is the
// scanner-facing 3-digit id; Key is the opaque storage key.
type Account struct {
	Key            string
	PublicID       string
	Name           string
	Email          string
	Balance        int64 // integer currency units
	TotalCollected int64 // operator account only
	CreatedAt      time.Time
}

func AccountFromDoc(key string, doc store.Doc) Account {
	a := Account{
		Key:            key,
		PublicID:       doc.String("public_id"),
		Name:           doc.String("name"),
		Email:          doc.String("email"),
		Balance:        doc.Int("wallet.balance"),
		TotalCollected: doc.Int("wallet.total_collected"),
	}
	if t, ok := doc.Time("created_at"); ok {
		a.CreatedAt = t
	}
	return a
}

func (a Account) Doc() store.Doc {
	wallet := map[string]any{
		"balance":    a.Balance,
		"created_at": a.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if a.PublicID == OperatorPublicID {
		wallet["total_collected"] = a.TotalCollected
	}
	return store.Doc{
		"public_id":  a.PublicID,
		"name":       a.Name,
		"email":      a.Email,
		"wallet":     wallet,
		"created_at": a.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
