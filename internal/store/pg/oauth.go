package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// TokenStore persists per-user OAuth credentials, unique on (user_id, provider).
type TokenStore struct {
	pool *pgxpool.Pool
}

func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

func (s *TokenStore) Get(ctx context.Context, userID, provider string) (*store.OAuthToken, error) {
	var t store.OAuthToken
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, provider, access_token, refresh_token, expires_at, scopes, account_id
		FROM oauth_tokens WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	).Scan(&t.UserID, &t.Provider, &t.AccessToken, &t.RefreshToken, &t.ExpiresAt, &t.Scopes, &t.AccountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth token: %w", err)
	}
	return &t, nil
}

// Upsert saves the token. Providers often omit the refresh token on
// refresh; an empty RefreshToken keeps the stored one.
func (s *TokenStore) Upsert(ctx context.Context, t *store.OAuthToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_tokens (user_id, provider, access_token, refresh_token, expires_at, scopes, account_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = CASE WHEN EXCLUDED.refresh_token <> ''
			                     THEN EXCLUDED.refresh_token
			                     ELSE oauth_tokens.refresh_token END,
			expires_at    = EXCLUDED.expires_at,
			scopes        = EXCLUDED.scopes,
			account_id    = EXCLUDED.account_id`,
		t.UserID, t.Provider, t.AccessToken, t.RefreshToken, t.ExpiresAt, t.Scopes, t.AccountID)
	if err != nil {
		return fmt.Errorf("upsert oauth token: %w", err)
	}
	return nil
}

func (s *TokenStore) Delete(ctx context.Context, userID, provider string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM oauth_tokens WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		return fmt.Errorf("delete oauth token: %w", err)
	}
	return nil
}
