package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mockbtc/backend/internal/apperr"
	"github.com/mockbtc/backend/internal/audit"
	"github.com/mockbtc/backend/internal/config"
	"github.com/mockbtc/backend/internal/ledger"
	"github.com/mockbtc/backend/internal/lock"
	"github.com/mockbtc/backend/internal/logger"
	"github.com/mockbtc/backend/internal/metrics"
	"github.com/mockbtc/backend/internal/models"
	"github.com/mockbtc/backend/internal/repository"
	"github.com/shopspring/decimal"
)

// RequestInput is a user's deposit or withdrawal request
type RequestInput struct {
	Amount decimal.Decimal        `json:"amount"`
	Type   models.TransactionType `json:"transaction_type" validate:"required,oneof=deposit withdrawal"`
	Reason string                 `json:"reason" validate:"required,max=500"`
	Memo   string                 `json:"memo" validate:"max=500"`
}

// DecisionInput approves or rejects a pending request
type DecisionInput struct {
	Status          string `json:"status" validate:"required,oneof=approved rejected"`
	RejectionReason string `json:"rejection_reason" validate:"max=500"`
}

// RequestQuery filters a user's own request listing. "all" or empty matches everything.
type RequestQuery struct {
	Status string
	Type   string
	Page   int
	Limit  int
}

type requestStore interface {
	TransactionStore
	UserStore
}

// TransactionRequestService runs the request -> pending -> approved|rejected lifecycle
type TransactionRequestService struct {
	store  requestStore
	locker lock.Locker
	audit  *audit.Logger
	cfg    *config.LedgerConfig
	now    func() time.Time
}

func NewTransactionRequestService(store requestStore, locker lock.Locker, cfg *config.LedgerConfig) *TransactionRequestService {
	return &TransactionRequestService{
		store:  store,
		locker: locker,
		audit:  audit.NewLogger(),
		cfg:    cfg,
		now:    time.Now,
	}
}

func validateRequest(in RequestInput) error {
	if in.Type != models.TransactionTypeDeposit && in.Type != models.TransactionTypeWithdrawal {
		return apperr.Validation("transaction_type must be deposit or withdrawal")
	}
	if !in.Amount.IsPositive() {
		return apperr.Validation("amount must be greater than 0")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return apperr.Validation("reason is required")
	}
	return nil
}

// Request records a pending deposit or withdrawal for the caller
func (s *TransactionRequestService) Request(ctx context.Context, p models.Principal, in RequestInput) (*models.TransactionRequestResult, error) {
	if err := authorize(p, models.PermTransactionRequest); err != nil {
		return nil, err
	}
	in.Amount = ledger.Round8(in.Amount)
	if err := validateRequest(in); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, userLockKey(p.UserID))
	if err != nil {
		return nil, err
	}
	defer release()

	if in.Type == models.TransactionTypeWithdrawal {
		balance, err := userBalance(ctx, s.store, p.UserID)
		if err != nil {
			return nil, err
		}
		if in.Amount.GreaterThan(balance) {
			return nil, apperr.Insufficient("insufficient balance for withdrawal")
		}
	}

	pending, err := s.store.CountPendingForUser(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("count pending requests: %w", err)
	}
	if pending > 0 {
		return nil, apperr.Conflict("you already have a pending transaction request")
	}

	now := s.now().In(s.cfg.Location)
	today, err := s.store.CountRequestsSince(ctx, p.UserID, ledger.StartOfDay(now))
	if err != nil {
		return nil, fmt.Errorf("count today's requests: %w", err)
	}
	if today >= s.cfg.DailyRequestLimit {
		return nil, apperr.RateLimited("daily request limit exceeded (%d requests per day)", s.cfg.DailyRequestLimit)
	}

	txn := &models.Transaction{
		TransactionID: uuid.NewString(),
		UserID:        p.UserID,
		Amount:        in.Amount,
		Type:          in.Type,
		Status:        models.TransactionStatusPending,
		Timestamp:     now,
		RequestedAt:   &now,
		CreatedBy:     p.UserID,
		Memo:          in.Memo,
		Reason:        in.Reason,
	}
	if err := s.store.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}

	metrics.TransactionRequestsTotal.WithLabelValues(string(in.Type)).Inc()
	s.audit.LogRequest(txn.TransactionID, p.UserID, string(in.Type), in.Amount)
	logger.Infof("[TransactionRequest] %s request %s created for %s: %s BTC", in.Type, txn.TransactionID, p.UserID, in.Amount)

	return &models.TransactionRequestResult{
		TransactionID: txn.TransactionID,
		UserID:        txn.UserID,
		Amount:        txn.Amount,
		Type:          txn.Type,
		Status:        txn.Status,
		RequestedAt:   now,
		Memo:          txn.Memo,
		Reason:        txn.Reason,
	}, nil
}

// Decide approves or rejects a pending request. Approval moves the
// entry's timestamp to the decision time.
func (s *TransactionRequestService) Decide(ctx context.Context, p models.Principal, transactionID string, in DecisionInput) (*models.DecisionResult, error) {
	if err := authorize(p, models.PermTransactionApprove); err != nil {
		return nil, err
	}
	status := models.TransactionStatus(in.Status)
	if status != models.TransactionStatusApproved && status != models.TransactionStatusRejected {
		return nil, apperr.Validation("status must be approved or rejected")
	}
	reason := strings.TrimSpace(in.RejectionReason)
	if status == models.TransactionStatusRejected && reason == "" {
		return nil, apperr.Validation("rejection_reason is required when rejecting")
	}

	txn, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != models.TransactionStatusPending {
		return nil, apperr.Conflict("transaction is already %s", txn.Status)
	}

	user, err := s.store.GetUser(ctx, txn.UserID)
	if err != nil {
		return nil, err
	}

	decision := repository.Decision{
		Status:      status,
		ProcessedAt: s.now(),
		ProcessedBy: p.UserID,
	}
	if status == models.TransactionStatusRejected {
		decision.RejectionReason = reason
	}

	decided, err := s.store.DecideTransaction(ctx, transactionID, decision)
	if err != nil {
		return nil, err
	}

	result := &models.DecisionResult{
		TransactionID:   decided.TransactionID,
		Status:          decided.Status,
		ProcessedAt:     decision.ProcessedAt,
		ProcessedBy:     p.UserID,
		UserName:        user.Name,
		UserEmail:       user.Email,
		RejectionReason: decided.RejectionReason,
	}

	if decided.Status == models.TransactionStatusApproved {
		balance, err := userBalance(ctx, s.store, decided.UserID)
		if err != nil {
			return nil, err
		}
		result.NewBalance = &balance
	}

	metrics.TransactionDecisionsTotal.WithLabelValues(string(decided.Status)).Inc()
	s.audit.LogDecision(decided.TransactionID, decided.UserID, p.UserID, string(decided.Status), decided.RejectionReason, decided.Amount)
	logger.Infof("[TransactionDecision] %s %s by %s", decided.TransactionID, decided.Status, p.UserID)

	return result, nil
}

func parseFilter[T ~string](raw string, valid func(T) bool, field string) (T, error) {
	if raw == "" || raw == "all" {
		return "", nil
	}
	v := T(raw)
	if !valid(v) {
		return "", apperr.Validation("invalid %s %q", field, raw)
	}
	return v, nil
}

func validStatus(s models.TransactionStatus) bool {
	return s == models.TransactionStatusPending || s == models.TransactionStatusApproved || s == models.TransactionStatusRejected
}

// ListMyRequests pages the caller's own entries, most recently requested first
func (s *TransactionRequestService) ListMyRequests(ctx context.Context, p models.Principal, q RequestQuery) (*models.Page[models.Transaction], error) {
	if err := authorize(p, models.PermTransactionRead); err != nil {
		return nil, err
	}
	status, err := parseFilter(q.Status, validStatus, "status")
	if err != nil {
		return nil, err
	}
	txType, err := parseFilter(q.Type, models.TransactionType.Valid, "transaction_type")
	if err != nil {
		return nil, err
	}

	txns, err := s.store.ListUserRequests(ctx, p.UserID, repository.RequestFilter{Status: status, Type: txType})
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}

	page, limit := pageBounds(q.Page, q.Limit, defaultPageLimit, maxPageLimit)
	result := models.NewPage(txns, page, limit)
	return &result, nil
}

// ListMyTransactions pages the caller's ledger by effective timestamp, newest
// first. txType narrows to deposits or withdrawals; other values list everything.
func (s *TransactionRequestService) ListMyTransactions(ctx context.Context, p models.Principal, txType string, page, limit int) (*models.Page[models.TransactionWithUser], error) {
	if err := authorize(p, models.PermTransactionRead); err != nil {
		return nil, err
	}
	page, limit = pageBounds(page, limit, defaultPageLimit, maxLedgerPageLimit)

	txns, err := s.store.ListUserTransactions(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("load transactions for %s: %w", p.UserID, err)
	}
	switch models.TransactionType(txType) {
	case models.TransactionTypeDeposit, models.TransactionTypeWithdrawal:
		filtered := txns[:0]
		for _, txn := range txns {
			if string(txn.Type) == txType {
				filtered = append(filtered, txn)
			}
		}
		txns = filtered
	}

	paged := models.NewPage(txns, page, limit)
	items, err := newUserDirectory(s.store).decorate(ctx, paged.Items)
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}

	return &models.Page[models.TransactionWithUser]{
		Items:   items,
		Total:   paged.Total,
		Page:    paged.Page,
		Limit:   paged.Limit,
		HasMore: paged.HasMore,
	}, nil
}

// ListRequestsByStatus is the administrator's approval queue
func (s *TransactionRequestService) ListRequestsByStatus(ctx context.Context, p models.Principal, status string, page, limit int) (*models.Page[models.TransactionWithUser], error) {
	if err := authorize(p, models.PermTransactionApprove); err != nil {
		return nil, err
	}
	if status == "" {
		status = string(models.TransactionStatusPending)
	}
	st := models.TransactionStatus(status)
	if !validStatus(st) {
		return nil, apperr.Validation("invalid status %q", status)
	}

	page, limit = pageBounds(page, limit, defaultPageLimit, maxPageLimit)
	total, err := s.store.CountByStatus(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("count %s requests: %w", st, err)
	}
	txns, err := s.store.ListByStatus(ctx, st, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list %s requests: %w", st, err)
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
