package services

import (
	"context"
	"fmt"
	"time"

	"github.com/mockbtc/backend/internal/config"
	"github.com/mockbtc/backend/internal/ledger"
	"github.com/mockbtc/backend/internal/models"
	"github.com/shopspring/decimal"
)

const overviewItems = 3

type dashboardStore interface {
	TransactionStore
	UserStore
	RateStore
}

// DashboardService composes balances, valuations and history for display
type DashboardService struct {
	store dashboardStore
	cfg   *config.LedgerConfig
	now   func() time.Time
}

func NewDashboardService(store dashboardStore, cfg *config.LedgerConfig) *DashboardService {
	return &DashboardService{store: store, cfg: cfg, now: time.Now}
}

// Dashboard is the caller's own summary
func (s *DashboardService) Dashboard(ctx context.Context, p models.Principal) (*models.DashboardData, error) {
	if err := authorize(p, models.PermDashboardAccess); err != nil {
		return nil, err
	}
	return s.build(ctx, p.UserID)
}

// UserDashboard is any user's summary, for administrators
func (s *DashboardService) UserDashboard(ctx context.Context, p models.Principal, userID string) (*models.DashboardData, error) {
	if err := authorize(p, models.PermUserRead); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.build(ctx, userID)
}

func (s *DashboardService) build(ctx context.Context, userID string) (*models.DashboardData, error) {
	txns, err := s.store.ListUserTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load transactions for %s: %w", userID, err)
	}

	now := s.now().In(s.cfg.Location)
	rates, err := s.store.ListRatesUntil(ctx, ledger.EndOfDay(now))
	if err != nil {
		return nil, fmt.Errorf("load market rates: %w", err)
	}
	ledger.SortRatesDesc(rates)

	latest, err := s.store.LatestRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest rate: %w", err)
	}

	balance := ledger.Balance(txns)
	principal := ledger.DepositPrincipal(txns)
	withdrawn := ledger.WithdrawalTotal(txns)

	value := decimal.Zero
	if latest != nil {
		value = ledger.Valuation(balance, latest.BTCJPYRate)
	}

	recent := txns
	if len(recent) > s.cfg.RecentTransactions {
		recent = recent[:s.cfg.RecentTransactions]
	}

	return &models.DashboardData{
		CurrentBalance:     balance,
		CurrentValue:       value,
		DepositPrincipal:   principal,
		WithdrawalTotal:    withdrawn,
		CreditBonus:        ledger.CreditBonus(txns),
		NetProfit:          ledger.NetProfit(balance, principal, withdrawn),
		BalanceHistory:     ledger.History(txns, rates, now, s.cfg.HistoryDays),
		RecentTransactions: recent,
	}, nil
}

// AdminOverview summarises the approval queue
func (s *DashboardService) AdminOverview(ctx context.Context, p models.Principal) (*models.AdminOverview, error) {
	if err := authorize(p, models.PermUserRead); err != nil {
		return nil, err
	}

	pendingCount, err := s.store.CountByStatus(ctx, models.TransactionStatusPending)
	if err != nil {
		return nil, fmt.Errorf("count pending requests: %w", err)
	}
	pending, err := s.store.ListByStatus(ctx, models.TransactionStatusPending, overviewItems, 0)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	approved, err := s.store.ListByStatus(ctx, models.TransactionStatusApproved, overviewItems, 0)
	if err != nil {
		return nil, fmt.Errorf("list approved transactions: %w", err)
	}

	users := newUserDirectory(s.store)
	pendingItems, err := users.decorate(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}
	approvedItems, err := users.decorate(ctx, approved)
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}

	return &models.AdminOverview{
		PendingRequestCount: pendingCount,
		PendingRequests:     pendingItems,
		RecentApproved:      approvedItems,
	}, nil
}
