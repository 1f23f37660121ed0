package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// EventStore persists ingested webhook events (ha_events table).
type EventStore struct {
	pool *pgxpool.Pool
}

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func (s *EventStore) Insert(ctx context.Context, e *store.WebhookEvent) (int64, error) {
	attrJSON, _ := json.Marshal(e.Attributes)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO ha_events (event_type, entity_id, old_state, new_state, attributes, processed, notification_sent, received_at)
		VALUES ($1, $2, $3, $4, $5, false, false, now())
		RETURNING id, received_at`,
		e.EventType, e.EntityID, e.OldState, e.NewState, attrJSON,
	).Scan(&e.ID, &e.ReceivedAt)
	if err != nil {
		return 0, fmt.Errorf("insert webhook event: %w", err)
	}
	return e.ID, nil
}

func (s *EventStore) MarkProcessed(ctx context.Context, id int64, notificationSent bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ha_events SET processed = true, notification_sent = $2 WHERE id = $1`,
		id, notificationSent)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}
