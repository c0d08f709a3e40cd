package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusCompleted, BatchStatusFailed:
		return true
	}
	return false
}

const BatchOperationBTCAdjustment = "btc_adjustment"

// BatchOperation tracks one percentage adjustment run across all active users
type BatchOperation struct {
	BatchID            string          `json:"batch_id" db:"batch_id"`
	OperationType      string          `json:"operation_type" db:"operation_type"`
	AdjustmentRate     decimal.Decimal `json:"adjustment_rate" db:"adjustment_rate"` // percent, 5 = +5%
	TargetUserCount    int             `json:"target_user_count" db:"target_user_count"`
	ProcessedUserCount int             `json:"processed_user_count" db:"processed_user_count"`
	FailedUserCount    int             `json:"failed_user_count" db:"failed_user_count"`
	Status             BatchStatus     `json:"status" db:"status"`
	CreatedBy          string          `json:"created_by" db:"created_by"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage       string          `json:"error_message,omitempty" db:"error_message"`
	Memo               string          `json:"memo,omitempty" db:"memo"`
}

// BatchStatusUpdate carries the mutable fields of a batch operation
type BatchStatusUpdate struct {
	Status             BatchStatus
	ProcessedUserCount *int
	FailedUserCount    *int
	StartedAt          *time.Time
	CompletedAt        *time.Time
	ErrorMessage       string
}

// UserError records a per-user failure inside a batch run
type UserError struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// BatchResult is the outcome of a batch run
type BatchResult struct {
	BatchID            string      `json:"batch_id"`
	Status             BatchStatus `json:"status"`
	TargetUserCount    int         `json:"target_user_count"`
	ProcessedUserCount int         `json:"processed_user_count"`
	FailedUserCount    int         `json:"failed_user_count"`
	Errors             []UserError `json:"errors,omitempty"`
}

// MarketRate binds a BTC/JPY rate to the time it takes effect.
// RateID is the Unix second of Timestamp.
type MarketRate struct {
	RateID     string          `json:"rate_id" db:"rate_id"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
	BTCJPYRate decimal.Decimal `json:"btc_jpy_rate" db:"btc_jpy_rate"`
	CreatedBy  string          `json:"created_by" db:"created_by"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  *time.Time      `json:"updated_at,omitempty" db:"updated_at"`
	UpdatedBy  string          `json:"updated_by,omitempty" db:"updated_by"`
}

// RateInput is a single rate entry as submitted by an administrator
type RateInput struct {
	Timestamp  string          `json:"timestamp" validate:"required"`
	BTCJPYRate decimal.Decimal `json:"btc_jpy_rate"`
}

// BulkRateResult reports a bulk rate upload; partial success is normal
type BulkRateResult struct {
	CreatedCount int         `json:"created_count"`
	Duplicates   []RateInput `json:"duplicates"`
	Errors       []string    `json:"errors"`
	Message      string      `json:"message"`
}

// BalanceHistoryItem is one day of the valuation series
type BalanceHistoryItem struct {
	Date      string          `json:"date"`
	BTCAmount decimal.Decimal `json:"btc_amount"`
	JPYValue  decimal.Decimal `json:"jpy_value"`
	BTCRate   decimal.Decimal `json:"btc_rate"`
}

// DashboardData is the per-user summary view
type DashboardData struct {
	CurrentBalance     decimal.Decimal      `json:"currentBalance"`
	CurrentValue       decimal.Decimal      `json:"currentValue"`
	DepositPrincipal   decimal.Decimal      `json:"depositPrincipal"`
	WithdrawalTotal    decimal.Decimal      `json:"withdrawalTotal"`
	CreditBonus        decimal.Decimal      `json:"creditBonus"`
	NetProfit          decimal.Decimal      `json:"netProfit"`
	BalanceHistory     []BalanceHistoryItem `json:"balanceHistory"`
	RecentTransactions []Transaction        `json:"recentTransactions"`
}

// AdminOverview summarises the approval queue for administrators
type AdminOverview struct {
	PendingRequestCount int                   `json:"pending_request_count"`
	PendingRequests     []TransactionWithUser `json:"pending_requests"`
	RecentApproved      []TransactionWithUser `json:"recent_approved"`
}

// UserBalance is the admin view of a single user's holdings
type UserBalance struct {
	UserID       string          `json:"user_id"`
	UserName     string          `json:"user_name"`
	UserEmail    string          `json:"user_email"`
	Balance      decimal.Decimal `json:"balance"`
	CurrentValue decimal.Decimal `json:"current_value"`
}

// Page is the pagination envelope used by every listing
type Page[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"hasMore"`
}

// NewPage slices items for the given 1-based page
func NewPage[T any](items []T, page, limit int) Page[T] {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit
	end := offset + limit
	if offset > len(items) {
		offset = len(items)
	}
	if end > len(items) {
		end = len(items)
	}
	out := items[offset:end]
	if out == nil {
		out = []T{}
	}
	return Page[T]{
		Items:   out,
		Total:   len(items),
		Page:    page,
		Limit:   limit,
		HasMore: offset+limit < len(items),
	}
}
