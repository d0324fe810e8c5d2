package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/smartspot/parking/internal/models"
	"github.com/smartspot/parking/internal/store"
)

// LedgerService owns account balances. All balance movement goes through
// Transfer; nothing else writes wallet fields.
type LedgerService struct {
	store       store.Store
	directory   *DirectoryService
	operatorKey string
}

func NewLedgerService(st store.Store, directory *DirectoryService, operatorKey string) *LedgerService {
	return &LedgerService{
		store:       st,
		directory:   directory,
		operatorKey: operatorKey,
	}
}

// GetBalance returns the wallet balance for a public id.
func (s *LedgerService) GetBalance(ctx context.Context, publicID string) (int64, error) {
	account, err := s.directory.FindByPublicID(ctx, publicID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Transfer moves amount from one account to another as a single commit. The
// sender's balance is checked inside the transaction, so the funds test holds
// at commit time rather than at some earlier read. The receiving side is an
// atomic increment: increments commute, and they upsert, so the operator
// account's very first fee creates its wallet with the transferred amount.
func (s *LedgerService) Transfer(ctx context.Context, fromKey, toKey string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("transfer amount must not be negative, got %d", amount)
	}
	return s.store.RunTransaction(ctx, func(tx store.Tx) error {
		doc, err := tx.Get(colAccounts, fromKey)
		if errors.Is(err, store.ErrNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		balance := doc.Int("wallet.balance")
		if balance < amount {
			return &InsufficientFundsError{Required: amount, Available: balance}
		}
		tx.Update(colAccounts, fromKey, store.Doc{"wallet.balance": balance - amount})
		tx.Increment(colAccounts, toKey, "wallet.balance", amount)
		if toKey == s.operatorKey {
			// Lifetime-collected advances in lockstep with the balance.
			tx.Increment(colAccounts, toKey, "wallet.total_collected", amount)
		}
		return nil
	})
}

// EnsureOperatorAccount provisions the fee-collecting account at startup.
// Idempotent: an existing operator wallet is left untouched.
func (s *LedgerService) EnsureOperatorAccount(ctx context.Context) error {
	return s.store.RunTransaction(ctx, func(tx store.Tx) error {
		_, err := tx.Get(colAccounts, s.operatorKey)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		account := models.Account{
			Key:       s.operatorKey,
			PublicID:  models.OperatorPublicID,
			Name:      "Facility Operator",
			Email:     "operator@smartspot.com",
			Balance:   0,
			CreatedAt: time.Now().UTC(),
		}
		tx.Set(colAccounts, s.operatorKey, account.Doc())
		tx.Set(colAccountIndex, models.OperatorPublicID, store.Doc{"key": s.operatorKey})
		log.Printf("[LEDGER] Provisioned operator account %s", s.operatorKey)
		return nil
	})
}

// OperatorAccount reads the fee-collecting account.
func (s *LedgerService) OperatorAccount(ctx context.Context) (models.Account, error) {
	doc, err := s.store.Get(ctx, colAccounts, s.operatorKey)
	if errors.Is(err, store.ErrNotFound) {
		return models.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, err
	}
	return models.AccountFromDoc(s.operatorKey, doc), nil
}

// OperatorKey exposes the storage key of the operator account for callers
// wiring transfers toward it.
func (s *LedgerService) OperatorKey() string {
	return s.operatorKey
}
