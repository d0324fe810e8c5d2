package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/smartspot/parking/internal/models"
	"github.com/smartspot/parking/internal/store"
)

// DirectoryService provisions and looks up user accounts by their
// scanner-facing public id.
type DirectoryService struct {
	store          store.Store
	validator      *ValidationHelper
	minUserID      int
	maxUserID      int
	initialBalance int64
}

func NewDirectoryService(st store.Store, minUserID, maxUserID int, initialBalance int64) *DirectoryService {
	return &DirectoryService{
		store:          st,
		validator:      NewValidationHelper(),
		minUserID:      minUserID,
		maxUserID:      maxUserID,
		initialBalance: initialBalance,
	}
}

// EnsureAccount returns the account for publicID, provisioning it on first
// sight. The account_index guard document makes concurrent calls converge on
// a single account: whichever transaction commits the guard first wins, the
// loser re-reads it on retry and returns the existing account.
func (s *DirectoryService) EnsureAccount(ctx context.Context, publicID string) (models.Account, error) {
	if err := s.validator.ValidatePublicID(publicID, s.minUserID, s.maxUserID); err != nil {
		return models.Account{}, err
	}

	var account models.Account
	var created bool
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		created = false
		idx, err := tx.Get(colAccountIndex, publicID)
		if err == nil {
			key := idx.String("key")
			doc, err := tx.Get(colAccounts, key)
			if err != nil {
				return fmt.Errorf("account index points at missing account %s: %w", key, err)
			}
			account = models.AccountFromDoc(key, doc)
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		created = true

		account = models.Account{
			Key:       uuid.NewString(),
			PublicID:  publicID,
			Name:      fmt.Sprintf("User %s", publicID),
			Email:     fmt.Sprintf("user%s@smartspot.com", publicID),
			Balance:   s.initialBalance,
			CreatedAt: time.Now().UTC(),
		}
		tx.Set(colAccountIndex, publicID, store.Doc{"key": account.Key})
		tx.Set(colAccounts, account.Key, account.Doc())
		return nil
	})
	if err != nil {
		return models.Account{}, err
	}
	if created {
		log.Printf("[DIRECTORY] Created account for user %s with initial balance %d", publicID, s.initialBalance)
	}
	return account, nil
}

// FindByPublicID resolves an account through the public field. Zero matches
// is ErrAccountNotFound; more than one is a data-integrity fault that gets
// reported, never silently resolved.
func (s *DirectoryService) FindByPublicID(ctx context.Context, publicID string) (models.Account, error) {
	snaps, err := s.store.Query(ctx, colAccounts, store.Filter{Field: "public_id", Value: publicID})
	if err != nil {
		return models.Account{}, err
	}
	switch len(snaps) {
	case 0:
		return models.Account{}, ErrAccountNotFound
	case 1:
		return models.AccountFromDoc(snaps[0].Key, snaps[0].Doc), nil
	default:
		log.Printf("[DIRECTORY] Integrity fault: %d accounts found for public id %s", len(snaps), publicID)
		return models.Account{}, fmt.Errorf("%w: %s", ErrDuplicateAccount, publicID)
	}
}
