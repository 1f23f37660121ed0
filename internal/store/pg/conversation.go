package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// ConversationStore implements the append-only turn log.
type ConversationStore struct {
	pool *pgxpool.Pool
}

func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

func (s *ConversationStore) Append(ctx context.Context, m *store.ConversationMessage) error {
	var metaJSON []byte
	if m.Metadata != nil {
		metaJSON, _ = json.Marshal(m.Metadata)
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversation_history (user_id, channel, role, content, metadata, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id, created_at`,
		m.UserID, m.Channel, m.Role, m.Content, metaJSON, m.Source,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append conversation message: %w", err)
	}
	return nil
}

const conversationColumns = `id, user_id, channel, role, content, metadata, source, created_at`

func (s *ConversationStore) Recent(ctx context.Context, userID string, limit int) ([]*store.ConversationMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversation_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent conversation: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *ConversationStore) RecentSince(ctx context.Context, userID string, since time.Time, limit int) ([]*store.ConversationMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+` FROM (
			SELECT `+conversationColumns+` FROM conversation_history
			WHERE user_id = $1 AND created_at > $2
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) latest
		ORDER BY created_at ASC, id ASC`,
		userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation since: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]*store.ConversationMessage, error) {
	var msgs []*store.ConversationMessage
	for rows.Next() {
		var m store.ConversationMessage
		var metaJSON []byte
		if err := rows.Scan(&m.ID, &m.UserID, &m.Channel, &m.Role, &m.Content,
			&metaJSON, &m.Source, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation message: %w", err)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &m.Metadata)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
