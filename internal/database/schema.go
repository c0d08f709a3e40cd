package database

import (
	"database/sql"
	"fmt"
)

// schema is idempotent; every statement may run on each start-up.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id    TEXT PRIMARY KEY,
		email      TEXT NOT NULL DEFAULT '',
		name       TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		transaction_id   TEXT PRIMARY KEY,
		batch_id         TEXT,
		user_id          TEXT NOT NULL,
		amount           NUMERIC(28, 8) NOT NULL,
		transaction_type TEXT NOT NULL CHECK (transaction_type IN ('deposit', 'withdrawal', 'asset_management')),
		status           TEXT CHECK (status IN ('pending', 'approved', 'rejected')),
		timestamp        TIMESTAMPTZ NOT NULL,
		requested_at     TIMESTAMPTZ,
		processed_at     TIMESTAMPTZ,
		processed_by     TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		created_by       TEXT NOT NULL DEFAULT '',
		memo             TEXT NOT NULL DEFAULT '',
		reason           TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_timestamp ON transactions (user_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_status_requested ON transactions (status, requested_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_requested ON transactions (user_id, requested_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_one_pending ON transactions (user_id) WHERE status = 'pending'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_batch_user ON transactions (batch_id, user_id) WHERE batch_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS batch_operations (
		batch_id             TEXT PRIMARY KEY,
		operation_type       TEXT NOT NULL DEFAULT 'btc_adjustment',
		adjustment_rate      NUMERIC(12, 4) NOT NULL,
		target_user_count    INTEGER NOT NULL DEFAULT 0,
		processed_user_count INTEGER NOT NULL DEFAULT 0,
		failed_user_count    INTEGER NOT NULL DEFAULT 0,
		status               TEXT NOT NULL,
		created_by           TEXT NOT NULL,
		created_at           TIMESTAMPTZ NOT NULL,
		started_at           TIMESTAMPTZ,
		completed_at         TIMESTAMPTZ,
		error_message        TEXT NOT NULL DEFAULT '',
		memo                 TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batch_operations_status_created ON batch_operations (status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS market_rates (
		rate_id      TEXT PRIMARY KEY,
		timestamp    TIMESTAMPTZ NOT NULL UNIQUE,
		btc_jpy_rate NUMERIC(20, 2) NOT NULL CHECK (btc_jpy_rate > 0),
		created_by   TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ,
		updated_by   TEXT NOT NULL DEFAULT ''
	)`,
}

// Migrate creates the ledger tables and indexes
func Migrate(db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
