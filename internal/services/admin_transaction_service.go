package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mockbtc/backend/internal/apperr"
	"github.com/mockbtc/backend/internal/audit"
	"github.com/mockbtc/backend/internal/ledger"
	"github.com/mockbtc/backend/internal/lock"
	"github.com/mockbtc/backend/internal/logger"
	"github.com/mockbtc/backend/internal/metrics"
	"github.com/mockbtc/backend/internal/models"
	"github.com/shopspring/decimal"
)

// AdminCreateInput is a finalised transaction entered by an administrator
type AdminCreateInput struct {
	UserID string                 `json:"user_id" validate:"required"`
	Amount decimal.Decimal        `json:"amount"`
	Type   models.TransactionType `json:"transaction_type" validate:"required,oneof=deposit withdrawal"`
	Reason string                 `json:"reason" validate:"required,max=500"`
	Memo   string                 `json:"memo" validate:"max=500"`
}

type adminStore interface {
	TransactionStore
	UserStore
	LatestRate(ctx context.Context) (*models.MarketRate, error)
}

// AdminTransactionService creates entries that take effect immediately
type AdminTransactionService struct {
	store  adminStore
	locker lock.Locker
	audit  *audit.Logger
	now    func() time.Time
}

func NewAdminTransactionService(store adminStore, locker lock.Locker) *AdminTransactionService {
	return &AdminTransactionService{
		store:  store,
		locker: locker,
		audit:  audit.NewLogger(),
		now:    time.Now,
	}
}

// Create inserts an approved deposit or withdrawal and returns the new balance
func (s *AdminTransactionService) Create(ctx context.Context, p models.Principal, in AdminCreateInput) (*models.AdminTransactionResult, error) {
	if err := authorize(p, models.PermTransactionCreate); err != nil {
		return nil, err
	}
	if in.UserID == "" || strings.TrimSpace(in.Reason) == "" || in.Type == "" {
		return nil, apperr.Validation("required fields are missing")
	}
	if in.Type != models.TransactionTypeDeposit && in.Type != models.TransactionTypeWithdrawal {
		return nil, apperr.Validation("transaction type must be deposit or withdrawal")
	}
	in.Amount = ledger.Round8(in.Amount)
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("amount must be positive")
	}

	user, err := s.store.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Active() {
		return nil, apperr.Validation("cannot create transaction for deleted user")
	}

	release, err := s.locker.Acquire(ctx, userLockKey(in.UserID))
	if err != nil {
		return nil, err
	}
	defer release()

	txns, err := s.store.ListUserTransactions(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("load transactions for %s: %w", in.UserID, err)
	}
	balance := ledger.Balance(txns)

	if in.Type == models.TransactionTypeWithdrawal && balance.LessThan(in.Amount) {
		return nil, apperr.Insufficient("insufficient balance. Current balance: %s BTC", ledger.Round8(balance))
	}

	txn := models.Transaction{
		TransactionID: uuid.NewString(),
		UserID:        in.UserID,
		Amount:        in.Amount,
		Type:          in.Type,
		Status:        models.TransactionStatusApproved,
		Timestamp:     s.now(),
		CreatedBy:     p.UserID,
		Memo:          in.Memo,
		Reason:        in.Reason,
	}
	if err := s.store.InsertTransaction(ctx, &txn); err != nil {
		return nil, err
	}

	newBalance := balance.Add(ledger.Signed(txn))

	metrics.AdminTransactionsTotal.WithLabelValues(string(txn.Type)).Inc()
	s.audit.LogAdminCreate(txn.TransactionID, txn.UserID, p.UserID, string(txn.Type), txn.Amount)
	logger.Infof("[AdminCreateTransaction] %s %s for %s by %s, new balance %s BTC",
		txn.Type, txn.TransactionID, txn.UserID, p.UserID, newBalance)

	return &models.AdminTransactionResult{
		Transaction: txn,
		UserName:    user.Name,
		UserEmail:   user.Email,
		NewBalance:  newBalance,
	}, nil
}

// ListAll pages the whole ledger, optionally narrowed to one user
func (s *AdminTransactionService) ListAll(ctx context.Context, p models.Principal, userID string, page, limit int) (*models.Page[models.TransactionWithUser], error) {
	if err := authorize(p, models.PermAdminTransactionRead); err != nil {
		return nil, err
	}

	page, limit = pageBounds(page, limit, defaultPageLimit, maxPageLimit)
	txns, total, err := s.store.ListTransactions(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	items, err := newUserDirectory(s.store).decorate(ctx, txns)
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}

	return &models.Page[models.TransactionWithUser]{
		Items:   items,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: page*limit < total,
	}, nil
}

// UserBalance reports one user's balance and its value at the latest rate
func (s *AdminTransactionService) UserBalance(ctx context.Context, p models.Principal, userID string) (*models.UserBalance, error) {
	if err := authorize(p, models.PermUserRead); err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	balance, err := userBalance(ctx, s.store, userID)
	if err != nil {
		return nil, err
	}

	value := decimal.Zero
	rate, err := s.store.LatestRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest rate: %w", err)
	}
	if rate != nil {
		value = ledger.Valuation(balance, rate.BTCJPYRate)
	}

	return &models.UserBalance{
		UserID:       user.UserID,
		UserName:     user.Name,
		UserEmail:    user.Email,
		Balance:      balance,
		CurrentValue: value,
	}, nil
}
