package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// StateStore persists reconciled downstream service snapshots, written by
// the metadata sync loop and read by tools.
type StateStore struct {
	pool *pgxpool.Pool
}

func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

func (s *StateStore) Put(ctx context.Context, st *store.ServiceState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO service_state (service, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (service) DO UPDATE SET
			payload = EXCLUDED.payload, updated_at = now()`,
		st.Service, []byte(st.Payload))
	if err != nil {
		return fmt.Errorf("put service state: %w", err)
	}
	return nil
}

func (s *StateStore) Get(ctx context.Context, service string) (*store.ServiceState, error) {
	var st store.ServiceState
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT service, payload, updated_at FROM service_state WHERE service = $1`, service,
	).Scan(&st.Service, &payload, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get service state: %w", err)
	}
	st.Payload = payload
	return &st, nil
}
