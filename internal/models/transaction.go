package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger entry
type TransactionType string

const (
	TransactionTypeDeposit         TransactionType = "deposit"
	TransactionTypeWithdrawal      TransactionType = "withdrawal"
	TransactionTypeAssetManagement TransactionType = "asset_management"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeAssetManagement:
		return true
	}
	return false
}

// TransactionStatus is the decision state of a ledger entry.
// Rows written before the status column existed carry NULL, which decodes
// to TransactionStatusApproved.
type TransactionStatus string

const (
	TransactionStatusApproved TransactionStatus = "approved"
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusRejected TransactionStatus = "rejected"
)

// ParseTransactionStatus maps a raw stored value to a status.
// Empty input is the legacy "no status" case.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(raw) {
	case "", TransactionStatusApproved:
		return TransactionStatusApproved, nil
	case TransactionStatusPending:
		return TransactionStatusPending, nil
	case TransactionStatusRejected:
		return TransactionStatusRejected, nil
	}
	return "", fmt.Errorf("unknown transaction status %q", raw)
}

// Terminal reports whether no further decision may be applied
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusApproved || s == TransactionStatusRejected
}

// Value implements driver.Valuer for TransactionStatus
func (s TransactionStatus) Value() (driver.Value, error) {
	if s == "" {
		return string(TransactionStatusApproved), nil
	}
	return string(s), nil
}

// Scan implements sql.Scanner for TransactionStatus
func (s *TransactionStatus) Scan(value any) error {
	var raw string
	switch v := value.(type) {
	case nil:
		raw = ""
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into TransactionStatus", value)
	}

	parsed, err := ParseTransactionStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalJSON applies the same legacy mapping as Scan
func (s *TransactionStatus) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return s.Scan(nil)
	}
	return s.Scan(*raw)
}

// Transaction is a single entry in the append-only ledger
type Transaction struct {
	TransactionID   string            `json:"transaction_id" db:"transaction_id"`
	BatchID         *string           `json:"batch_id,omitempty" db:"batch_id"`
	UserID          string            `json:"user_id" db:"user_id"`
	Amount          decimal.Decimal   `json:"amount" db:"amount"` // signed for asset_management
	Type            TransactionType   `json:"transaction_type" db:"transaction_type"`
	Status          TransactionStatus `json:"status" db:"status"`
	Timestamp       time.Time         `json:"timestamp" db:"timestamp"`
	RequestedAt     *time.Time        `json:"requested_at,omitempty" db:"requested_at"`
	ProcessedAt     *time.Time        `json:"processed_at,omitempty" db:"processed_at"`
	ProcessedBy     string            `json:"processed_by,omitempty" db:"processed_by"`
	RejectionReason string            `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CreatedBy       string            `json:"created_by" db:"created_by"`
	Memo            string            `json:"memo" db:"memo"`
	Reason          string            `json:"reason" db:"reason"`
}

// SortTime is the time a listing orders by: request time when present
func (t Transaction) SortTime() time.Time {
	if t.RequestedAt != nil {
		return *t.RequestedAt
	}
	return t.Timestamp
}

// TransactionRequestResult is returned after a user submits a request
type TransactionRequestResult struct {
	TransactionID string            `json:"transaction_id"`
	UserID        string            `json:"user_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Type          TransactionType   `json:"transaction_type"`
	Status        TransactionStatus `json:"status"`
	RequestedAt   time.Time         `json:"requested_at"`
	Memo          string            `json:"memo"`
	Reason        string            `json:"reason"`
}

// DecisionResult is returned after a pending request is approved or rejected
type DecisionResult struct {
	TransactionID   string            `json:"transaction_id"`
	Status          TransactionStatus `json:"status"`
	ProcessedAt     time.Time         `json:"processed_at"`
	ProcessedBy     string            `json:"processed_by"`
	UserName        string            `json:"user_name"`
	UserEmail       string            `json:"user_email"`
	NewBalance      *decimal.Decimal  `json:"new_balance,omitempty"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
}

// AdminTransactionResult is returned after an administrator creates a transaction
type AdminTransactionResult struct {
	Transaction
	UserName   string          `json:"user_name"`
	UserEmail  string          `json:"user_email"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// TransactionWithUser decorates a transaction for the approval queue
type TransactionWithUser struct {
	Transaction
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
}
