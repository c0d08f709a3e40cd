package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/mockbtc/backend/internal/apperr"
)

// MaxTransactItems bounds a single grouped write
const MaxTransactItems = 25

// WriteOp is one member of an all-or-nothing grouped write
type WriteOp func(ctx context.Context, tx *sql.Tx) error

// Store is the postgres-backed ledger store. All reads and writes of
// transactions, users, batch operations and market rates go through it.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// TransactWrite applies ops atomically: either every op commits or none does
func (s *Store) TransactWrite(ctx context.Context, ops ...WriteOp) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > MaxTransactItems {
		return apperr.Validation("grouped write of %d items exceeds limit of %d", len(ops), MaxTransactItems)
	}

	return s.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, op := range ops {
			if err := op(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// WithTransaction runs fn inside a database transaction
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint, true
	}
	return "", false
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
