package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// AlertStore implements the deduplicated alert state machine over the
// alert_state table (unique on alert_key).
type AlertStore struct {
	pool *pgxpool.Pool
}

func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// Trigger upserts the alert row and classifies the transition. The upsert
// makes concurrent triggers for the same key idempotent.
func (s *AlertStore) Trigger(ctx context.Context, a *store.Alert) (store.TriggerOutcome, error) {
	metaJSON, _ := json.Marshal(a.Metadata)

	// prev captures the pre-statement row (same snapshot as the upsert),
	// which distinguishes new insert / re-fire / continued-active.
	var existed, wasResolved bool
	err := s.pool.QueryRow(ctx, `
		WITH prev AS (
			SELECT resolved_at FROM alert_state WHERE alert_key = $1
		), up AS (
			INSERT INTO alert_state AS al
				(alert_key, alert_type, severity, message, metadata,
				 first_triggered, last_triggered, resolved_at, notification_sent)
			VALUES ($1, $2, $3, $4, $5, now(), now(), NULL, false)
			ON CONFLICT (alert_key) DO UPDATE SET
				alert_type     = EXCLUDED.alert_type,
				severity       = EXCLUDED.severity,
				message        = EXCLUDED.message,
				metadata       = EXCLUDED.metadata,
				last_triggered = now(),
				notification_sent = CASE WHEN al.resolved_at IS NOT NULL
				                         THEN false ELSE al.notification_sent END,
				resolved_at    = NULL
		)
		SELECT EXISTS (SELECT 1 FROM prev),
		       COALESCE((SELECT resolved_at IS NOT NULL FROM prev), false)`,
		a.AlertKey, a.Type, a.Severity, a.Message, metaJSON,
	).Scan(&existed, &wasResolved)
	if err != nil {
		return store.TriggerContinued, fmt.Errorf("trigger alert: %w", err)
	}

	switch {
	case !existed:
		return store.TriggerNew, nil
	case wasResolved:
		return store.TriggerRefire, nil
	default:
		return store.TriggerContinued, nil
	}
}

// Resolve transitions active -> resolved. Resolving an absent or already
// resolved key is a no-op returning false.
func (s *AlertStore) Resolve(ctx context.Context, alertKey string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_state SET resolved_at = now() WHERE alert_key = $1 AND resolved_at IS NULL`,
		alertKey)
	if err != nil {
		return false, fmt.Errorf("resolve alert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *AlertStore) Unsent(ctx context.Context) ([]*store.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT alert_key, alert_type, severity, message, metadata,
		       first_triggered, last_triggered, resolved_at, notification_sent
		FROM alert_state
		WHERE resolved_at IS NULL AND NOT notification_sent
		ORDER BY last_triggered`)
	if err != nil {
		return nil, fmt.Errorf("unsent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*store.Alert
	for rows.Next() {
		var a store.Alert
		var metaJSON []byte
		if err := rows.Scan(&a.AlertKey, &a.Type, &a.Severity, &a.Message, &metaJSON,
			&a.FirstTriggered, &a.LastTriggered, &a.ResolvedAt, &a.NotificationSent); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &a.Metadata)
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

func (s *AlertStore) MarkSent(ctx context.Context, alertKey string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE alert_state SET notification_sent = true WHERE alert_key = $1`, alertKey)
	if err != nil {
		return fmt.Errorf("mark alert sent: %w", err)
	}
	return nil
}
