package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mockbtc/backend/internal/apperr"
	"github.com/mockbtc/backend/internal/ledger"
	"github.com/mockbtc/backend/internal/models"
	"github.com/mockbtc/backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newRequestService(store *memStore) *TransactionRequestService {
	svc := NewTransactionRequestService(store, testLocker(), testConfig())
	svc.now = fixedNow
	return svc
}

func requestFixture() *memStore {
	store := newMemStore()
	store.addUser("user-1", "Taro", models.UserStatusActive)
	store.seed(approvedTxn("seed-1", "user-1", models.TransactionTypeDeposit, "1.5", testNow.Add(-48*time.Hour)))
	return store
}

func TestTransactionRequestService_Request(t *testing.T) {
	ctx := context.Background()

	t.Run("deposit is recorded as pending", func(t *testing.T) {
		store := requestFixture()
		svc := newRequestService(store)

		result, err := svc.Request(ctx, userP, RequestInput{Amount: btc("0.25"), Type: models.TransactionTypeDeposit, Reason: "top up", Memo: "bank"})
		require.NoError(t, err)

		assert.Equal(t, models.TransactionStatusPending, result.Status)
		assert.Equal(t, "user-1", result.UserID)
		assert.True(t, result.RequestedAt.Equal(testNow))

		stored, err := store.GetTransaction(ctx, result.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, "user-1", stored.CreatedBy)
		require.NotNil(t, stored.RequestedAt)

		balance, err := userBalance(ctx, store, "user-1")
		require.NoError(t, err)
		assert.True(t, balance.Equal(btc("1.5")), "pending entries do not move the balance")
	})

	t.Run("missing permission", func(t *testing.T) {
		svc := newRequestService(requestFixture())
		_, err := svc.Request(ctx, nobodyP, RequestInput{Amount: btc("1"), Type: models.TransactionTypeDeposit, Reason: "x"})
		assert.True(t, apperr.Is(err, apperr.ForbiddenError))
	})

	t.Run("invalid input", func(t *testing.T) {
		svc := newRequestService(requestFixture())
		cases := map[string]RequestInput{
			"zero amount":     {Amount: btc("0"), Type: models.TransactionTypeDeposit, Reason: "x"},
			"negative amount": {Amount: btc("-1"), Type: models.TransactionTypeDeposit, Reason: "x"},
			"sub-satoshi":     {Amount: btc("0.000000001"), Type: models.TransactionTypeDeposit, Reason: "x"},
			"asset type":      {Amount: btc("1"), Type: models.TransactionTypeAssetManagement, Reason: "x"},
			"blank reason":    {Amount: btc("1"), Type: models.TransactionTypeDeposit, Reason: "  "},
		}
		for name, in := range cases {
			_, err := svc.Request(ctx, userP, in)
			assert.True(t, apperr.Is(err, apperr.ValidationError), name)
		}
	})

	t.Run("amount is stored at satoshi precision", func(t *testing.T) {
		store := requestFixture()
		svc := newRequestService(store)

		result, err := svc.Request(ctx, userP, RequestInput{Amount: btc("0.123456789"), Type: models.TransactionTypeDeposit, Reason: "top up"})
		require.NoError(t, err)

		stored, err := store.GetTransaction(ctx, result.TransactionID)
		require.NoError(t, err)
		assert.True(t, stored.Amount.Equal(btc("0.12345679")))
	})

	t.Run("withdrawal above balance", func(t *testing.T) {
		svc := newRequestService(requestFixture())
		_, err := svc.Request(ctx, userP, RequestInput{Amount: btc("1.50000001"), Type: models.TransactionTypeWithdrawal, Reason: "cash out"})
		assert.True(t, apperr.Is(err, apperr.InsufficientFunds))
	})

	t.Run("withdrawal of the whole balance", func(t *testing.T) {
		svc := newRequestService(requestFixture())
		result, err := svc.Request(ctx, userP, RequestInput{Amount: btc("1.5"), Type: models.TransactionTypeWithdrawal, Reason: "cash out"})
		require.NoError(t, err)
		assert.Equal(t, models.TransactionTypeWithdrawal, result.Type)
	})

	t.Run("second pending request", func(t *testing.T) {
		store := requestFixture()
		svc := newRequestService(store)

		_, err := svc.Request(ctx, userP, RequestInput{Amount: btc("0.1"), Type: models.TransactionTypeDeposit, Reason: "first"})
		require.NoError(t, err)

		_, err = svc.Request(ctx, userP, RequestInput{Amount: btc("0.1"), Type: models.TransactionTypeDeposit, Reason: "second"})
		assert.True(t, apperr.Is(err, apperr.ConflictError))

		pending, _ := store.CountPendingForUser(ctx, "user-1")
		assert.Equal(t, 1, pending)
	})

	t.Run("daily limit", func(t *testing.T) {
		store := requestFixture()
		svc := newRequestService(store)
		svc.cfg.DailyRequestLimit = 3

		today := ledger.StartOfDay(testNow).Add(time.Hour)
		yesterday := today.Add(-24 * time.Hour)
		for i := 0; i < 3; i++ {
			at := today
			if i == 0 {
				at = yesterday
			}
			store.seed(models.Transaction{
				TransactionID: fmt.Sprintf("req-%d", i),
				UserID:        "user-1",
				Amount:        btc("0.1"),
				Type:          models.TransactionTypeDeposit,
				Status:        models.TransactionStatusRejected,
				Timestamp:     at,
				RequestedAt:   &at,
				Reason:        "seed",
			})
		}

		// two today, one yesterday
		_, err := svc.Request(ctx, userP, RequestInput{Amount: btc("0.1"), Type: models.TransactionTypeDeposit, Reason: "third today"})
		require.NoError(t, err)
		_, err = store.DecideTransaction(ctx, lastTxnID(store), decisionAt(models.TransactionStatusRejected))
		require.NoError(t, err)

		_, err = svc.Request(ctx, userP, RequestInput{Amount: btc("0.1"), Type: models.TransactionTypeDeposit, Reason: "fourth today"})
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.RateLimitedError))
		assert.Contains(t, err.Error(), "3 requests per day")
	})

	t.Run("user lock held elsewhere", func(t *testing.T) {
		store := requestFixture()
		locker := &MockLocker{}
		locker.On("Acquire", mock.Anything, "ledger:user:user-1").
			Return(nil, apperr.Conflict("another operation is in progress for ledger:user:user-1"))

		svc := NewTransactionRequestService(store, locker, testConfig())
		_, err := svc.Request(ctx, userP, RequestInput{Amount: btc("0.1"), Type: models.TransactionTypeDeposit, Reason: "x"})
		assert.True(t, apperr.Is(err, apperr.ConflictError))
		assert.Len(t, store.txns, 1)
		locker.AssertExpectations(t)
	})

	t.Run("lock is released after the request", func(t *testing.T) {
		store := requestFixture()
		released := false
		locker := &MockLocker{}
		locker.On("Acquire", mock.Anything, "ledger:user:user-1").Return(func() { released = true }, nil)

		svc := NewTransactionRequestService(store, locker, testConfig())
		_, err := svc.Request(ctx, userP, RequestInput{Amount: btc("0.1"), Type: models.TransactionTypeDeposit, Reason: "x"})
		require.NoError(t, err)
		assert.True(t, released)
	})
}

func lastTxnID(store *memStore) string {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.txns[len(store.txns)-1].TransactionID
}

func TestTransactionRequestService_Decide(t *testing.T) {
	ctx := context.Background()

	submit := func(t *testing.T, store *memStore, svc *TransactionRequestService, txType models.TransactionType, amount string) string {
		t.Helper()
		result, err := svc.Request(ctx, userP, RequestInput{Amount: btc(amount), Type: txType, Reason: "r"})
		require.NoError(t, err)
		return result.TransactionID
	}

	t.Run("approval moves the timestamp and the balance", func(t *testing.T) {
		store := requestFixture()
		svc := newRequestService(store)
		id := submit(t, store, svc, models.TransactionTypeWithdrawal, "0.5")

		decidedAt := testNow.Add(2 * time.Hour)
		svc.now = func() time.Time { return decidedAt }

		result, err := svc.Decide(ctx, adminP, id, DecisionInput{Status: "approved"})
		require.NoError(t, err)

		assert.Equal(t, models.TransactionStatusApproved, result.Status)
		assert.Equal(t, "Taro", result.UserName)
		assert.Equal(t, "admin-1", result.ProcessedBy)
		require.NotNil(t, result.NewBalance)
		assert.True(t, result.NewBalance.Equal(btc("1")))

		stored, _ := store.GetTransaction(ctx, id)
		assert.True(t, stored.Timestamp.Equal(decidedAt))
		assert.True(t, stored.RequestedAt.Equal(testNow))
	})

	t.Run("rejection needs a reason", func(t *testing.T) {
		store := requestFixture()
		svc := newRequestService(store)
		id := submit(t, store, svc, models.TransactionTypeDeposit, "0.5")

		_, err := svc.Decide(ctx, adminP, id, DecisionInput{Status: "rejected", RejectionReason: " "})
		assert.True(t, apperr.Is(err, apperr.ValidationError))

		result, err := svc.Decide(ctx, adminP, id, DecisionInput{Status: "rejected", RejectionReason: "no proof"})
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusRejected, result.Status)
		assert.Equal(t, "no proof", result.RejectionReason)
		assert.Nil(t, result.NewBalance)

		balance, _ := userBalance(ctx, store, "user-1")
		assert.True(t, balance.Equal(btc("1.5")))
	})

	t.Run("decision is applied once", func(t *testing.T) {
		store := requestFixture()
		svc := newRequestService(store)
		id := submit(t, store, svc, models.TransactionTypeDeposit, "0.5")

		_, err := svc.Decide(ctx, adminP, id, DecisionInput{Status: "approved"})
		require.NoError(t, err)

		_, err = svc.Decide(ctx, adminP, id, DecisionInput{Status: "rejected", RejectionReason: "late"})
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.ConflictError))
		assert.Contains(t, err.Error(), "transaction is already approved")
	})

	t.Run("legacy entry without status counts as approved", func(t *testing.T) {
		store := requestFixture()
		svc := newRequestService(store)

		_, err := svc.Decide(ctx, adminP, "seed-1", DecisionInput{Status: "approved"})
		assert.True(t, apperr.Is(err, apperr.ConflictError))
	})

	t.Run("invalid status", func(t *testing.T) {
		svc := newRequestService(requestFixture())
		_, err := svc.Decide(ctx, adminP, "whatever", DecisionInput{Status: "pending"})
		assert.True(t, apperr.Is(err, apperr.ValidationError))
		_, err = svc.Decide(ctx, adminP, "whatever", DecisionInput{})
		assert.True(t, apperr.Is(err, apperr.ValidationError))
	})

	t.Run("unknown transaction", func(t *testing.T) {
		svc := newRequestService(requestFixture())
		_, err := svc.Decide(ctx, adminP, "missing", DecisionInput{Status: "approved"})
		assert.True(t, apperr.Is(err, apperr.NotFoundError))
	})

	t.Run("requires approve permission", func(t *testing.T) {
		svc := newRequestService(requestFixture())
		_, err := svc.Decide(ctx, userP, "seed-1", DecisionInput{Status: "approved"})
		assert.True(t, apperr.Is(err, apperr.ForbiddenError))
	})
}

func TestTransactionRequestService_Listings(t *testing.T) {
	ctx := context.Background()
	store := requestFixture()
	store.addUser("user-2", "Hanako", models.UserStatusActive)
	svc := newRequestService(store)

	for i := 0; i < 3; i++ {
		at := testNow.Add(-time.Duration(i+1) * time.Hour)
		store.seed(models.Transaction{
			TransactionID: fmt.Sprintf("old-%d", i),
			UserID:        "user-1",
			Amount:        btc("0.1"),
			Type:          models.TransactionTypeWithdrawal,
			Status:        models.TransactionStatusRejected,
			Timestamp:     at,
			RequestedAt:   &at,
			Reason:        "seed",
		})
	}
	_, err := svc.Request(ctx, userP, RequestInput{Amount: btc("0.2"), Type: models.TransactionTypeDeposit, Reason: "newest"})
	require.NoError(t, err)

	orphanAt := testNow.Add(time.Minute)
	store.seed(models.Transaction{
		TransactionID: "orphan", UserID: "ghost", Amount: btc("1"), Type: models.TransactionTypeDeposit,
		Status: models.TransactionStatusPending, Timestamp: orphanAt, RequestedAt: &orphanAt, Reason: "r",
	})

	t.Run("own requests newest first", func(t *testing.T) {
		page, err := svc.ListMyRequests(ctx, userP, RequestQuery{Status: "all", Page: 1, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		assert.True(t, page.HasMore)
		require.Len(t, page.Items, 2)
		assert.Equal(t, "newest", page.Items[0].Reason)
	})

	t.Run("filtered by status and type", func(t *testing.T) {
		page, err := svc.ListMyRequests(ctx, userP, RequestQuery{Status: "rejected", Type: "withdrawal"})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, defaultPageLimit, page.Limit)
		assert.False(t, page.HasMore)
	})

	t.Run("unknown filter value", func(t *testing.T) {
		_, err := svc.ListMyRequests(ctx, userP, RequestQuery{Type: "asset"})
		assert.True(t, apperr.Is(err, apperr.ValidationError))
	})

	t.Run("approval queue defaults to pending", func(t *testing.T) {
		page, err := svc.ListRequestsByStatus(ctx, adminP, "", 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
		require.Len(t, page.Items, 2)
		assert.Equal(t, "orphan", page.Items[0].TransactionID)
		assert.Equal(t, unknownUserName, page.Items[0].UserName)
		assert.Equal(t, "Taro", page.Items[1].UserName)
		assert.Equal(t, "user-1@example.com", page.Items[1].UserEmail)
	})

	t.Run("limit is capped", func(t *testing.T) {
		page, err := svc.ListRequestsByStatus(ctx, adminP, "rejected", 1, 500)
		require.NoError(t, err)
		assert.Equal(t, maxPageLimit, page.Limit)
	})
}

func decisionAt(status models.TransactionStatus) repository.Decision {
	return repository.Decision{Status: status, ProcessedAt: testNow, ProcessedBy: "admin-1", RejectionReason: "seed"}
}

func TestTransactionRequestService_ListMyTransactions(t *testing.T) {
	ctx := context.Background()
	store := requestFixture()
	store.addUser("user-2", "Hanako", models.UserStatusActive)
	store.seed(
		approvedTxn("w-1", "user-1", models.TransactionTypeWithdrawal, "0.5", testNow.Add(-24*time.Hour)),
		approvedTxn("d-2", "user-1", models.TransactionTypeDeposit, "0.1", testNow.Add(-time.Hour)),
		approvedTxn("other", "user-2", models.TransactionTypeDeposit, "9", testNow),
	)
	svc := newRequestService(store)

	t.Run("own ledger newest first", func(t *testing.T) {
		page, err := svc.ListMyTransactions(ctx, userP, "", 1, 2)
		require.NoError(t, err)

		assert.Equal(t, 3, page.Total)
		assert.True(t, page.HasMore)
		require.Len(t, page.Items, 2)
		assert.Equal(t, "d-2", page.Items[0].TransactionID)
		assert.Equal(t, "w-1", page.Items[1].TransactionID)
		assert.Equal(t, "Taro", page.Items[0].UserName)
	})

	t.Run("type filter", func(t *testing.T) {
		page, err := svc.ListMyTransactions(ctx, userP, "withdrawal", 1, 0)
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "w-1", page.Items[0].TransactionID)

		page, err = svc.ListMyTransactions(ctx, userP, "asset_management", 1, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
	})

	t.Run("limit capped at 100 and pages past the end are empty", func(t *testing.T) {
		page, err := svc.ListMyTransactions(ctx, userP, "", 1, 500)
		require.NoError(t, err)
		assert.Equal(t, 100, page.Limit)

		page, err = svc.ListMyTransactions(ctx, userP, "", 5, 10)
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.False(t, page.HasMore)
	})

	t.Run("requires read permission", func(t *testing.T) {
		_, err := svc.ListMyTransactions(ctx, nobodyP, "", 1, 10)
		assert.True(t, apperr.Is(err, apperr.ForbiddenError))
	})
}
