package token

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Token is the cached access token of one gateway.
type Token struct {
	Gateway   string
	Value     string
	UpdatedAt time.Time
}

type Store interface {
	// Latest returns nil without error when no token was ever saved.
	Latest(ctx context.Context, gateway string) (*Token, error)
	Save(ctx context.Context, t Token) error
}

type store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return &store{db: db}
}

func (s *store) Latest(ctx context.Context, gateway string) (*Token, error) {
	var t Token
	err := s.db.QueryRowContext(ctx,
		`SELECT gateway, token, updated_at FROM gateway_tokens WHERE gateway = $1`,
		gateway,
	).Scan(&t.Gateway, &t.Value, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Save keeps one row per gateway. An older write never replaces a newer one.
func (s *store) Save(ctx context.Context, t Token) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_tokens (gateway, token, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (gateway) DO UPDATE
		SET token = EXCLUDED.token, updated_at = EXCLUDED.updated_at
		WHERE gateway_tokens.updated_at <= EXCLUDED.updated_at
	`, t.Gateway, t.Value, t.UpdatedAt)
	return err
}
