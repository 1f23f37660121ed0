package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// UserStore implements store.UserStore backed by Postgres.
type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userColumns = `id, name, role, permissions, soul, phone, notification_prefs, created_at, updated_at`

func scanUser(row pgx.Row) (*store.User, error) {
	var u store.User
	var soulJSON, prefsJSON []byte
	err := row.Scan(&u.ID, &u.Name, &u.Role, &u.Permissions, &soulJSON, &u.Phone, &prefsJSON, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(soulJSON) > 0 {
		_ = json.Unmarshal(soulJSON, &u.Soul)
	}
	if len(prefsJSON) > 0 {
		_ = json.Unmarshal(prefsJSON, &u.NotifyPrefs)
	}
	return &u, nil
}

func (s *UserStore) Get(ctx context.Context, id string) (*store.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) Upsert(ctx context.Context, u *store.User) error {
	soulJSON, _ := json.Marshal(u.Soul)
	prefsJSON, _ := json.Marshal(u.NotifyPrefs)
	role := u.Role
	if role == "" {
		role = store.RoleUser
	}
	now := time.Now().UTC()

	// On conflict keep existing attributes; only refresh the display name
	// when the caller supplied one.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, role, permissions, soul, phone, notification_prefs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE users.name END,
			updated_at = EXCLUDED.updated_at`,
		u.ID, u.Name, role, u.Permissions, soulJSON, u.Phone, prefsJSON, now,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *UserStore) UpdateSoul(ctx context.Context, id string, soul store.Soul) error {
	soulJSON, _ := json.Marshal(soul)
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET soul = $2, updated_at = now() WHERE id = $1`, id, soulJSON)
	if err != nil {
		return fmt.Errorf("update soul: %w", err)
	}
	return nil
}

func (s *UserStore) UpdatePrefs(ctx context.Context, id string, prefs store.NotificationPrefs) error {
	prefsJSON, _ := json.Marshal(prefs)
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET notification_prefs = $2, updated_at = now() WHERE id = $1`, id, prefsJSON)
	if err != nil {
		return fmt.Errorf("update notification prefs: %w", err)
	}
	return nil
}

func (s *UserStore) List(ctx context.Context) ([]*store.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE id NOT IN ($1, $2) ORDER BY created_at`,
		store.DefaultUserID, store.SystemUserID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (s *UserStore) ListNotifiable(ctx context.Context) ([]*store.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE phone <> '' AND id NOT IN ($1, $2) ORDER BY created_at`,
		store.DefaultUserID, store.SystemUserID)
	if err != nil {
		return nil, fmt.Errorf("list notifiable users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]*store.User, error) {
	var users []*store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *UserStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *UserStore) CreateInvite(ctx context.Context, code, createdBy string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO invite_codes (code, created_by, created_at) VALUES ($1, $2, now())`,
		code, createdBy)
	if err != nil {
		return fmt.Errorf("create invite: %w", err)
	}
	return nil
}

func (s *UserStore) RedeemInvite(ctx context.Context, code, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invite_codes SET redeemed_by = $2, redeemed_at = now()
		WHERE code = $1 AND redeemed_by IS NULL`,
		code, userID)
	if err != nil {
		return false, fmt.Errorf("redeem invite: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
