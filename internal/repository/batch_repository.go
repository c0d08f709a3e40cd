package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mockbtc/backend/internal/apperr"
	"github.com/mockbtc/backend/internal/models"
)

const batchColumns = `batch_id, operation_type, adjustment_rate, target_user_count, processed_user_count,
	failed_user_count, status, created_by, created_at, started_at, completed_at, error_message, memo`

func scanBatch(row rowScanner) (*models.BatchOperation, error) {
	var (
		op          models.BatchOperation
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&op.BatchID, &op.OperationType, &op.AdjustmentRate, &op.TargetUserCount, &op.ProcessedUserCount,
		&op.FailedUserCount, &op.Status, &op.CreatedBy, &op.CreatedAt, &startedAt, &completedAt,
		&op.ErrorMessage, &op.Memo,
	)
	if err != nil {
		return nil, err
	}
	op.StartedAt = nullTime(startedAt)
	op.CompletedAt = nullTime(completedAt)
	return &op, nil
}

func scanBatches(rows *sql.Rows) ([]models.BatchOperation, error) {
	defer rows.Close()

	ops := []models.BatchOperation{}
	for rows.Next() {
		op, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

// CreateBatchOperation records a new batch run
func (s *Store) CreateBatchOperation(ctx context.Context, op *models.BatchOperation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_operations (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		op.BatchID, op.OperationType, op.AdjustmentRate, op.TargetUserCount, op.ProcessedUserCount,
		op.FailedUserCount, string(op.Status), op.CreatedBy, op.CreatedAt, op.StartedAt, op.CompletedAt,
		op.ErrorMessage, op.Memo)
	if _, ok := uniqueViolation(err); ok {
		return apperr.Conflict("batch operation %s already exists", op.BatchID)
	}
	return err
}

// UpdateBatchOperation sets status plus whichever optional fields are present
func (s *Store) UpdateBatchOperation(ctx context.Context, batchID string, update models.BatchStatusUpdate) error {
	sets := []string{"status = $1"}
	args := []any{string(update.Status)}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.ProcessedUserCount != nil {
		add("processed_user_count", *update.ProcessedUserCount)
	}
	if update.FailedUserCount != nil {
		add("failed_user_count", *update.FailedUserCount)
	}
	if update.StartedAt != nil {
		add("started_at", *update.StartedAt)
	}
	if update.CompletedAt != nil {
		add("completed_at", *update.CompletedAt)
	}
	if update.ErrorMessage != "" {
		add("error_message", update.ErrorMessage)
	}

	args = append(args, batchID)
	query := fmt.Sprintf("UPDATE batch_operations SET %s WHERE batch_id = $%d", strings.Join(sets, ", "), len(args))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("batch operation %s not found", batchID)
	}
	return nil
}

// GetBatchOperation loads one batch run
func (s *Store) GetBatchOperation(ctx context.Context, batchID string) (*models.BatchOperation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batch_operations WHERE batch_id = $1`, batchID)
	op, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("batch operation %s not found", batchID)
	}
	return op, err
}

// ListBatchOperations pages batch runs newest first, optionally by status
func (s *Store) ListBatchOperations(ctx context.Context, status models.BatchStatus, limit, offset int) ([]models.BatchOperation, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM batch_operations WHERE ($1 = '' OR status = $1)`, string(status)).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batch_operations
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	ops, err := scanBatches(rows)
	return ops, total, err
}

// ListStaleBatchOperations returns unfinished runs last touched before cutoff
func (s *Store) ListStaleBatchOperations(ctx context.Context, cutoff time.Time) ([]models.BatchOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batch_operations
		WHERE status IN ('pending', 'processing') AND COALESCE(started_at, created_at) < $1
		ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, err
	}
	return scanBatches(rows)
}
