package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mockbtc/backend/internal/apperr"
	"github.com/mockbtc/backend/internal/config"
	"github.com/mockbtc/backend/internal/lock"
	"github.com/mockbtc/backend/internal/models"
	"github.com/mockbtc/backend/internal/repository"
	"github.com/shopspring/decimal"
)

// memStore keeps the ledger in memory and enforces the same uniqueness
// rules as the database schema.
type memStore struct {
	mu sync.Mutex

	txns      []models.Transaction
	users     map[string]models.User
	userOrder []string
	batches   map[string]models.BatchOperation
	rates     map[string]models.MarketRate

	// failure hooks
	insertErr     map[string]error // by user id, single inserts
	bulkInsertErr error
	listUsersErr  error
	balanceErr    map[string]error // by user id, ListUserTransactions
	bulkCalls     int
	batchUpdates  []models.BatchStatusUpdate
}

var _ LedgerStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[string]models.User),
		batches:    make(map[string]models.BatchOperation),
		rates:      make(map[string]models.MarketRate),
		insertErr:  make(map[string]error),
		balanceErr: make(map[string]error),
	}
}

func (m *memStore) addUser(id, name string, status models.UserStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = models.User{UserID: id, Name: name, Email: id + "@example.com", Status: status}
	m.userOrder = append(m.userOrder, id)
}

func (m *memStore) seed(txns ...models.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txns = append(m.txns, txns...)
}

func (m *memStore) checkUnique(txn models.Transaction, pending []models.Transaction) error {
	for _, existing := range append(m.txns, pending...) {
		if existing.TransactionID == txn.TransactionID {
			return apperr.Conflict("transaction %s already exists", txn.TransactionID)
		}
		if txn.Status == models.TransactionStatusPending && existing.UserID == txn.UserID &&
			existing.Status == models.TransactionStatusPending {
			return apperr.Conflict("you already have a pending transaction request")
		}
		if txn.BatchID != nil && existing.BatchID != nil && *existing.BatchID == *txn.BatchID &&
			existing.UserID == txn.UserID {
			return apperr.Conflict("batch entry already exists for %s", txn.UserID)
		}
	}
	return nil
}

func (m *memStore) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.insertErr[txn.UserID]; err != nil {
		return err
	}
	if err := m.checkUnique(*txn, nil); err != nil {
		return err
	}
	m.txns = append(m.txns, *txn)
	return nil
}

func (m *memStore) InsertTransactions(ctx context.Context, txns []models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkCalls++
	if m.bulkInsertErr != nil {
		return m.bulkInsertErr
	}
	if len(txns) > repository.MaxTransactItems {
		return apperr.Validation("too many items")
	}
	for i, txn := range txns {
		if err := m.insertErr[txn.UserID]; err != nil {
			return err
		}
		if err := m.checkUnique(txn, txns[:i]); err != nil {
			return err
		}
	}
	m.txns = append(m.txns, txns...)
	return nil
}

func (m *memStore) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txn := range m.txns {
		if txn.TransactionID == transactionID {
			out := txn
			return &out, nil
		}
	}
	return nil, apperr.NotFound("transaction not found")
}

func (m *memStore) userTxns(userID string, keep func(models.Transaction) bool) []models.Transaction {
	var out []models.Transaction
	for _, txn := range m.txns {
		if txn.UserID == userID && (keep == nil || keep(txn)) {
			out = append(out, txn)
		}
	}
	return out
}

func (m *memStore) ListUserTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.balanceErr[userID]; err != nil {
		return nil, err
	}
	out := m.userTxns(userID, nil)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *memStore) ListUserTransactionsUntil(ctx context.Context, userID string, until time.Time) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userTxns(userID, func(t models.Transaction) bool { return !t.Timestamp.After(until) }), nil
}

func (m *memStore) CountPendingForUser(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.userTxns(userID, func(t models.Transaction) bool {
		return t.Status == models.TransactionStatusPending
	})), nil
}

func (m *memStore) CountRequestsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.userTxns(userID, func(t models.Transaction) bool {
		return t.RequestedAt != nil && !t.RequestedAt.Before(since)
	})), nil
}

func (m *memStore) DecideTransaction(ctx context.Context, transactionID string, d repository.Decision) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.txns {
		txn := &m.txns[i]
		if txn.TransactionID != transactionID {
			continue
		}
		if txn.Status != models.TransactionStatusPending {
			return nil, apperr.Conflict("transaction is already %s", txn.Status)
		}
		processedAt := d.ProcessedAt
		txn.Status = d.Status
		txn.ProcessedAt = &processedAt
		txn.ProcessedBy = d.ProcessedBy
		txn.RejectionReason = d.RejectionReason
		if d.Status == models.TransactionStatusApproved {
			txn.Timestamp = processedAt
		}
		out := *txn
		return &out, nil
	}
	return nil, apperr.NotFound("transaction not found")
}

func (m *memStore) byStatus(status models.TransactionStatus) []models.Transaction {
	var out []models.Transaction
	for _, txn := range m.txns {
		if txn.Status == status {
			out = append(out, txn)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortTime().After(out[j].SortTime()) })
	return out
}

func window[T any](items []T, limit, offset int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (m *memStore) ListByStatus(ctx context.Context, status models.TransactionStatus, limit, offset int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return window(m.byStatus(status), limit, offset), nil
}

func (m *memStore) CountByStatus(ctx context.Context, status models.TransactionStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byStatus(status)), nil
}

func (m *memStore) ListUserRequests(ctx context.Context, userID string, filter repository.RequestFilter) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.userTxns(userID, func(t models.Transaction) bool {
		return (filter.Status == "" || t.Status == filter.Status) && (filter.Type == "" || t.Type == filter.Type)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortTime().After(out[j].SortTime()) })
	return out, nil
}

func (m *memStore) ListBatchUserIDs(ctx context.Context, batchID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, txn := range m.txns {
		if txn.BatchID != nil && *txn.BatchID == batchID {
			ids = append(ids, txn.UserID)
		}
	}
	return ids, nil
}

func (m *memStore) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, txn := range m.txns {
		if userID == "" || txn.UserID == userID {
			out = append(out, txn)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return window(out, limit, offset), len(out), nil
}

func (m *memStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return &user, nil
}

func (m *memStore) ListActiveUsers(ctx context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listUsersErr != nil {
		return nil, m.listUsersErr
	}
	var out []models.User
	for _, id := range m.userOrder {
		if user := m.users[id]; user.Active() {
			out = append(out, user)
		}
	}
	return out, nil
}

func (m *memStore) CreateBatchOperation(ctx context.Context, op *models.BatchOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[op.BatchID]; ok {
		return apperr.Conflict("batch operation %s already exists", op.BatchID)
	}
	m.batches[op.BatchID] = *op
	return nil
}

func (m *memStore) UpdateBatchOperation(ctx context.Context, batchID string, update models.BatchStatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.batches[batchID]
	if !ok {
		return apperr.NotFound("batch operation not found")
	}
	m.batchUpdates = append(m.batchUpdates, update)
	op.Status = update.Status
	if update.ProcessedUserCount != nil {
		op.ProcessedUserCount = *update.ProcessedUserCount
	}
	if update.FailedUserCount != nil {
		op.FailedUserCount = *update.FailedUserCount
	}
	if update.StartedAt != nil {
		op.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		op.CompletedAt = update.CompletedAt
	}
	if update.ErrorMessage != "" {
		op.ErrorMessage = update.ErrorMessage
	}
	m.batches[batchID] = op
	return nil
}

func (m *memStore) GetBatchOperation(ctx context.Context, batchID string) (*models.BatchOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.batches[batchID]
	if !ok {
		return nil, apperr.NotFound("batch operation not found")
	}
	return &op, nil
}

func (m *memStore) ListBatchOperations(ctx context.Context, status models.BatchStatus, limit, offset int) ([]models.BatchOperation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BatchOperation
	for _, op := range m.batches {
		if status == "" || op.Status == status {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return window(out, limit, offset), len(out), nil
}

func (m *memStore) ListStaleBatchOperations(ctx context.Context, cutoff time.Time) ([]models.BatchOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BatchOperation
	for _, op := range m.batches {
		if op.Status != models.BatchStatusPending && op.Status != models.BatchStatusProcessing {
			continue
		}
		since := op.CreatedAt
		if op.StartedAt != nil {
			since = *op.StartedAt
		}
		if since.Before(cutoff) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) InsertRate(ctx context.Context, rate *models.MarketRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rates[rate.RateID]; ok {
		return apperr.Conflict("market rate %s already exists", rate.RateID)
	}
	m.rates[rate.RateID] = *rate
	return nil
}

func (m *memStore) ReplaceRate(ctx context.Context, oldID string, rate *models.MarketRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rates[oldID]; !ok {
		return apperr.NotFound("market rate not found")
	}
	if _, ok := m.rates[rate.RateID]; ok && rate.RateID != oldID {
		return apperr.Conflict("market rate for this timestamp already exists")
	}
	delete(m.rates, oldID)
	m.rates[rate.RateID] = *rate
	return nil
}

func (m *memStore) GetRate(ctx context.Context, rateID string) (*models.MarketRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rate, ok := m.rates[rateID]
	if !ok {
		return nil, apperr.NotFound("market rate not found")
	}
	return &rate, nil
}

func (m *memStore) sortedRates() []models.MarketRate {
	out := make([]models.MarketRate, 0, len(m.rates))
	for _, rate := range m.rates {
		out = append(out, rate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (m *memStore) ListRates(ctx context.Context, limit, offset int) ([]models.MarketRate, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sortedRates()
	return window(all, limit, offset), len(all), nil
}

func (m *memStore) ListRatesUntil(ctx context.Context, until time.Time) ([]models.MarketRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MarketRate
	for _, rate := range m.sortedRates() {
		if !rate.Timestamp.After(until) {
			out = append(out, rate)
		}
	}
	return out, nil
}

func (m *memStore) LatestRate(ctx context.Context) (*models.MarketRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sortedRates()
	if len(all) == 0 {
		return nil, nil
	}
	return &all[0], nil
}

// fixture helpers

var (
	testNow  = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	userP    = models.Principal{UserID: "user-1", Permissions: []string{models.PermTransactionRequest, models.PermTransactionRead, models.PermDashboardAccess, models.PermMarketRateRead}}
	adminP   = models.Principal{UserID: "admin-1", Groups: []string{"admin"}, Permissions: []string{models.PermTransactionCreate, models.PermTransactionApprove, models.PermAdminTransactionRead, models.PermBatchExecute, models.PermBatchRead, models.PermMarketRateCreate, models.PermMarketRateRead, models.PermUserRead, models.PermDashboardAccess}}
	nobodyP  = models.Principal{UserID: "nobody"}
	fixedNow = func() time.Time { return testNow }
)

func testConfig() *config.LedgerConfig {
	cfg := config.DefaultLedgerConfig()
	cfg.Location = time.UTC
	cfg.LockWait = 50 * time.Millisecond
	return cfg
}

func testLocker() lock.Locker {
	return lock.NewLocalLocker(50 * time.Millisecond)
}

func btc(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func approvedTxn(id, userID string, txType models.TransactionType, amount string, at time.Time) models.Transaction {
	return models.Transaction{
		TransactionID: id,
		UserID:        userID,
		Amount:        btc(amount),
		Type:          txType,
		Status:        models.TransactionStatusApproved,
		Timestamp:     at,
		CreatedBy:     "admin-1",
		Reason:        "seed",
	}
}
