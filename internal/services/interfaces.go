package services

import (
	"context"
	"time"

	"github.com/mockbtc/backend/internal/models"
	"github.com/mockbtc/backend/internal/repository"
)

// TransactionStore is the ledger side of the store
type TransactionStore interface {
	InsertTransaction(ctx context.Context, txn *models.Transaction) error
	InsertTransactions(ctx context.Context, txns []models.Transaction) error
	GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error)
	ListUserTransactions(ctx context.Context, userID string) ([]models.Transaction, error)
	ListUserTransactionsUntil(ctx context.Context, userID string, until time.Time) ([]models.Transaction, error)
	CountPendingForUser(ctx context.Context, userID string) (int, error)
	CountRequestsSince(ctx context.Context, userID string, since time.Time) (int, error)
	DecideTransaction(ctx context.Context, transactionID string, d repository.Decision) (*models.Transaction, error)
	ListByStatus(ctx context.Context, status models.TransactionStatus, limit, offset int) ([]models.Transaction, error)
	CountByStatus(ctx context.Context, status models.TransactionStatus) (int, error)
	ListUserRequests(ctx context.Context, userID string, filter repository.RequestFilter) ([]models.Transaction, error)
	ListBatchUserIDs(ctx context.Context, batchID string) ([]string, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, int, error)
}

type UserStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	ListActiveUsers(ctx context.Context) ([]models.User, error)
}

type BatchStore interface {
	CreateBatchOperation(ctx context.Context, op *models.BatchOperation) error
	UpdateBatchOperation(ctx context.Context, batchID string, update models.BatchStatusUpdate) error
	GetBatchOperation(ctx context.Context, batchID string) (*models.BatchOperation, error)
	ListBatchOperations(ctx context.Context, status models.BatchStatus, limit, offset int) ([]models.BatchOperation, int, error)
	ListStaleBatchOperations(ctx context.Context, cutoff time.Time) ([]models.BatchOperation, error)
}

type RateStore interface {
	InsertRate(ctx context.Context, rate *models.MarketRate) error
	ReplaceRate(ctx context.Context, oldID string, rate *models.MarketRate) error
	GetRate(ctx context.Context, rateID string) (*models.MarketRate, error)
	ListRates(ctx context.Context, limit, offset int) ([]models.MarketRate, int, error)
	ListRatesUntil(ctx context.Context, until time.Time) ([]models.MarketRate, error)
	LatestRate(ctx context.Context) (*models.MarketRate, error)
}

// LedgerStore is everything the services read and write.
// *repository.Store satisfies it.
type LedgerStore interface {
	TransactionStore
	UserStore
	BatchStore
	RateStore
}

// Submitter runs best-effort background work
type Submitter interface {
	Submit(f func()) bool
}

var _ LedgerStore = (*repository.Store)(nil)
