package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// AuditStore persists tool usage records.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) Record(ctx context.Context, u *store.ToolUsage) error {
	paramsJSON, _ := json.Marshal(u.Params)
	var errVal any
	if u.Error != "" {
		errVal = u.Error
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tool_usage (user_id, tool_name, params, result, error, duration_ms, channel, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		u.UserID, u.ToolName, paramsJSON, u.Result, errVal, u.Duration.Milliseconds(), u.Channel)
	if err != nil {
		return fmt.Errorf("record tool usage: %w", err)
	}
	return nil
}

func (s *AuditStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tool_usage WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune tool usage: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *AuditStore) RecentForUser(ctx context.Context, userID string, limit int) ([]*store.ToolUsage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, tool_name, params, result, COALESCE(error, ''), duration_ms, channel, created_at
		FROM tool_usage WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent tool usage: %w", err)
	}
	defer rows.Close()

	var usages []*store.ToolUsage
	for rows.Next() {
		var u store.ToolUsage
		var paramsJSON []byte
		var durMS int64
		if err := rows.Scan(&u.ID, &u.UserID, &u.ToolName, &paramsJSON, &u.Result,
			&u.Error, &durMS, &u.Channel, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tool usage: %w", err)
		}
		if len(paramsJSON) > 0 {
			_ = json.Unmarshal(paramsJSON, &u.Params)
		}
		u.Duration = time.Duration(durMS) * time.Millisecond
		usages = append(usages, &u)
	}
	return usages, rows.Err()
}
