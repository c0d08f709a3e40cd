package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mockbtc/backend/internal/apperr"
	"github.com/mockbtc/backend/internal/models"
)

const userColumns = `user_id, email, name, status, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	if err := row.Scan(&user.UserID, &user.Email, &user.Name, &user.Status, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUser loads the mirrored identity record
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user %s not found", userID)
	}
	return user, err
}

// ListActiveUsers returns every user not marked deleted
func (s *Store) ListActiveUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE status <> 'deleted' ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// UpsertUser mirrors an identity-provider record into the ledger store
func (s *Store) UpsertUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, email, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		user.UserID, user.Email, user.Name, string(user.Status), user.CreatedAt, user.UpdatedAt)
	return err
}
