package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mockbtc/backend/internal/apperr"
	"github.com/mockbtc/backend/internal/models"
)

const transactionColumns = `transaction_id, batch_id, user_id, amount, transaction_type, status,
	timestamp, requested_at, processed_at, processed_by, rejection_reason, created_by, memo, reason`

const (
	constraintOnePending = "uq_transactions_one_pending"
	constraintBatchUser  = "uq_transactions_batch_user"
)

// Decision is the conditional update applied to a pending request
type Decision struct {
	Status          models.TransactionStatus
	ProcessedAt     time.Time
	ProcessedBy     string
	RejectionReason string
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		txn         models.Transaction
		batchID     sql.NullString
		requestedAt sql.NullTime
		processedAt sql.NullTime
	)
	err := row.Scan(
		&txn.TransactionID, &batchID, &txn.UserID, &txn.Amount, &txn.Type, &txn.Status,
		&txn.Timestamp, &requestedAt, &processedAt, &txn.ProcessedBy, &txn.RejectionReason,
		&txn.CreatedBy, &txn.Memo, &txn.Reason,
	)
	if err != nil {
		return nil, err
	}
	txn.BatchID = nullString(batchID)
	txn.RequestedAt = nullTime(requestedAt)
	txn.ProcessedAt = nullTime(processedAt)
	return &txn, nil
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	defer rows.Close()

	txns := []models.Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

func insertTransactionArgs(txn *models.Transaction) []any {
	return []any{
		txn.TransactionID, txn.BatchID, txn.UserID, txn.Amount, string(txn.Type), txn.Status,
		txn.Timestamp, txn.RequestedAt, txn.ProcessedAt, txn.ProcessedBy, txn.RejectionReason,
		txn.CreatedBy, txn.Memo, txn.Reason,
	}
}

const insertTransactionSQL = `INSERT INTO transactions (` + transactionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

func transactionWriteError(txn *models.Transaction, err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	switch constraint {
	case constraintOnePending:
		return apperr.Conflict("user %s already has a pending request", txn.UserID)
	case constraintBatchUser:
		return apperr.Conflict("user %s already adjusted in batch", txn.UserID)
	default:
		return apperr.Conflict("transaction %s already exists", txn.TransactionID)
	}
}

// InsertTransactionOp is the grouped-write form of InsertTransaction
func InsertTransactionOp(txn *models.Transaction) WriteOp {
	return func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertTransactionSQL, insertTransactionArgs(txn)...); err != nil {
			return transactionWriteError(txn, err)
		}
		return nil
	}
}

// InsertTransaction appends a single ledger entry
func (s *Store) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if _, err := s.db.ExecContext(ctx, insertTransactionSQL, insertTransactionArgs(txn)...); err != nil {
		return transactionWriteError(txn, err)
	}
	return nil
}

// InsertTransactions appends up to MaxTransactItems entries atomically
func (s *Store) InsertTransactions(ctx context.Context, txns []models.Transaction) error {
	ops := make([]WriteOp, 0, len(txns))
	for i := range txns {
		ops = append(ops, InsertTransactionOp(&txns[i]))
	}
	return s.TransactWrite(ctx, ops...)
}

// GetTransaction loads one entry by id
func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE transaction_id = $1`, transactionID)

	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("transaction %s not found", transactionID)
	}
	return txn, err
}

// ListUserTransactions returns every entry of a user, newest first
func (s *Store) ListUserTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY timestamp DESC`, userID)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

// ListUserTransactionsUntil returns entries with timestamp at or before until, newest first
func (s *Store) ListUserTransactionsUntil(ctx context.Context, userID string, until time.Time) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = $1 AND timestamp <= $2 ORDER BY timestamp DESC`, userID, until)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

// CountPendingForUser counts the user's open requests
func (s *Store) CountPendingForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE user_id = $1 AND status = 'pending'`, userID).Scan(&count)
	return count, err
}

// CountRequestsSince counts requests the user submitted at or after since
func (s *Store) CountRequestsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE user_id = $1 AND requested_at >= $2`, userID, since).Scan(&count)
	return count, err
}

// DecideTransaction moves a pending entry to its terminal status.
// An approval also moves the balance timestamp to the decision time.
// The update only applies while the entry is still pending.
func (s *Store) DecideTransaction(ctx context.Context, transactionID string, d Decision) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE transactions
		SET status = $1,
			processed_at = $2,
			processed_by = $3,
			rejection_reason = $4,
			timestamp = CASE WHEN $1 = 'approved' THEN $2 ELSE timestamp END
		WHERE transaction_id = $5 AND status = 'pending'
		RETURNING `+transactionColumns,
		d.Status, d.ProcessedAt, d.ProcessedBy, d.RejectionReason, transactionID)

	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Conflict("transaction %s is no longer pending", transactionID)
	}
	return txn, err
}

// ListByStatus pages entries of one status, most recently requested first.
// Legacy rows without a status are listed as approved.
func (s *Store) ListByStatus(ctx context.Context, status models.TransactionStatus, limit, offset int) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE COALESCE(status, 'approved') = $1
		ORDER BY COALESCE(requested_at, timestamp) DESC
		LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

// CountByStatus counts entries of one status
func (s *Store) CountByStatus(ctx context.Context, status models.TransactionStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE COALESCE(status, 'approved') = $1`, status).Scan(&count)
	return count, err
}

// RequestFilter narrows a user's request listing; empty fields match everything
type RequestFilter struct {
	Status models.TransactionStatus
	Type   models.TransactionType
}

// ListUserRequests returns a user's entries, most recently requested first
func (s *Store) ListUserRequests(ctx context.Context, userID string, filter RequestFilter) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = $1
			AND ($2 = '' OR COALESCE(status, 'approved') = $2)
			AND ($3 = '' OR transaction_type = $3)
		ORDER BY COALESCE(requested_at, timestamp) DESC`,
		userID, string(filter.Status), string(filter.Type))
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

// ListBatchUserIDs returns the users already adjusted by a batch
func (s *Store) ListBatchUserIDs(ctx context.Context, batchID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM transactions WHERE batch_id = $1`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	userIDs := []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, rows.Err()
}

// ListTransactions pages the whole ledger newest first, optionally for one user
func (s *Store) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE ($1 = '' OR user_id = $1)`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	txns, err := scanTransactions(rows)
	return txns, total, err
}
