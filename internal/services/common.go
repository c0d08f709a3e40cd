package services

import (
	"context"
	"fmt"

	"github.com/mockbtc/backend/internal/apperr"
	"github.com/mockbtc/backend/internal/ledger"
	"github.com/mockbtc/backend/internal/models"
	"github.com/shopspring/decimal"
)

const (
	defaultPageLimit   = 20
	maxPageLimit       = 50
	maxLedgerPageLimit = 100
	unknownUserName    = "Unknown User"
)

func authorize(p models.Principal, permission string) error {
	if !p.HasPermission(permission) {
		return apperr.Forbidden(permission)
	}
	return nil
}

// pageBounds clamps a 1-based page and a limit to [1, max]
func pageBounds(page, limit, def, max int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return page, limit
}

func userLockKey(userID string) string   { return "ledger:user:" + userID }
func batchLockKey(batchID string) string { return "ledger:batch:" + batchID }

// userBalance replays the user's full history
func userBalance(ctx context.Context, store TransactionStore, userID string) (decimal.Decimal, error) {
	txns, err := store.ListUserTransactions(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load transactions for %s: %w", userID, err)
	}
	return ledger.Balance(txns), nil
}

// userDirectory resolves display names once per call
type userDirectory struct {
	store UserStore
	cache map[string]*models.User
}

func newUserDirectory(store UserStore) *userDirectory {
	return &userDirectory{store: store, cache: make(map[string]*models.User)}
}

func (d *userDirectory) decorate(ctx context.Context, txns []models.Transaction) ([]models.TransactionWithUser, error) {
	out := make([]models.TransactionWithUser, 0, len(txns))
	for _, txn := range txns {
		user, ok := d.cache[txn.UserID]
		if !ok {
			found, err := d.store.GetUser(ctx, txn.UserID)
			if err != nil && !apperr.Is(err, apperr.NotFoundError) {
				return nil, err
			}
			user = found
			d.cache[txn.UserID] = user
		}

		item := models.TransactionWithUser{Transaction: txn, UserName: unknownUserName}
		if user != nil {
			item.UserName = user.Name
			item.UserEmail = user.Email
		}
		out = append(out, item)
	}
	return out, nil
}
