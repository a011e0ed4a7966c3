package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crewflow/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateUser(ctx context.Context, user *store.User, hashedKey string) error {
	query := `
		INSERT INTO users (id, name, tier, api_key_hash, rate_limit, rate_limit_burst, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Name, user.Tier, hashedKey,
		user.RateLimit, user.RateLimitBurst, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.ID, err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error) {
	query := "SELECT id, name, tier, rate_limit, rate_limit_burst, created_at FROM users WHERE id = $1"
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) GetUserByAPIKeyHash(ctx context.Context, hash string) (*store.User, error) {
	query := "SELECT id, name, tier, rate_limit, rate_limit_burst, created_at FROM users WHERE api_key_hash = $1"
	return s.scanUser(s.db.QueryRowContext(ctx, query, hash))
}

func (s *Store) scanUser(row *sql.Row) (*store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Name, &u.Tier, &u.RateLimit, &u.RateLimitBurst, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
