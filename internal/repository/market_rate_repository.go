package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mockbtc/backend/internal/apperr"
	"github.com/mockbtc/backend/internal/models"
)

const rateColumns = `rate_id, timestamp, btc_jpy_rate, created_by, created_at, updated_at, updated_by`

const insertRateSQL = `INSERT INTO market_rates (` + rateColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

func scanRate(row rowScanner) (*models.MarketRate, error) {
	var (
		rate      models.MarketRate
		updatedAt sql.NullTime
	)
	err := row.Scan(&rate.RateID, &rate.Timestamp, &rate.BTCJPYRate, &rate.CreatedBy, &rate.CreatedAt, &updatedAt, &rate.UpdatedBy)
	if err != nil {
		return nil, err
	}
	rate.UpdatedAt = nullTime(updatedAt)
	return &rate, nil
}

func scanRates(rows *sql.Rows) ([]models.MarketRate, error) {
	defer rows.Close()

	rates := []models.MarketRate{}
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		rates = append(rates, *rate)
	}
	return rates, rows.Err()
}

func rateArgs(rate *models.MarketRate) []any {
	return []any{rate.RateID, rate.Timestamp, rate.BTCJPYRate, rate.CreatedBy, rate.CreatedAt, rate.UpdatedAt, rate.UpdatedBy}
}

// InsertRate stores a new rate. A rate already present for the same
// timestamp is a conflict.
func (s *Store) InsertRate(ctx context.Context, rate *models.MarketRate) error {
	result, err := s.db.ExecContext(ctx, insertRateSQL+` ON CONFLICT DO NOTHING`, rateArgs(rate)...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.Conflict("market rate for %s already exists", rate.Timestamp.UTC().Format(time.RFC3339))
	}
	return nil
}

// ReplaceRate removes oldID and stores rate in one grouped write
func (s *Store) ReplaceRate(ctx context.Context, oldID string, rate *models.MarketRate) error {
	deleteOp := func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM market_rates WHERE rate_id = $1`, oldID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperr.NotFound("market rate %s not found", oldID)
		}
		return nil
	}
	insertOp := func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertRateSQL, rateArgs(rate)...)
		if _, ok := uniqueViolation(err); ok {
			return apperr.Conflict("market rate for %s already exists", rate.Timestamp.UTC().Format(time.RFC3339))
		}
		return err
	}
	return s.TransactWrite(ctx, deleteOp, insertOp)
}

// GetRate loads one rate by id
func (s *Store) GetRate(ctx context.Context, rateID string) (*models.MarketRate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rateColumns+` FROM market_rates WHERE rate_id = $1`, rateID)
	rate, err := scanRate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("market rate %s not found", rateID)
	}
	return rate, err
}

// ListRates pages rates newest first
func (s *Store) ListRates(ctx context.Context, limit, offset int) ([]models.MarketRate, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM market_rates`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rateColumns+` FROM market_rates ORDER BY timestamp DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	rates, err := scanRates(rows)
	return rates, total, err
}

// ListRatesUntil returns every rate effective at or before until, newest first
func (s *Store) ListRatesUntil(ctx context.Context, until time.Time) ([]models.MarketRate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rateColumns+` FROM market_rates WHERE timestamp <= $1 ORDER BY timestamp DESC`, until)
	if err != nil {
		return nil, err
	}
	return scanRates(rows)
}

// LatestRate returns the most recent rate, or nil when none exist
func (s *Store) LatestRate(ctx context.Context) (*models.MarketRate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rateColumns+` FROM market_rates ORDER BY timestamp DESC LIMIT 1`)
	rate, err := scanRate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rate, err
}
