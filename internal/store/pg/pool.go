package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// OpenPool connects a pgx pool to the given DSN and verifies the connection.
// The caller owns the pool and closes it at shutdown.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// NewStores creates all stores backed by one shared pool.
func NewStores(pool *pgxpool.Pool) *store.Stores {
	return &store.Stores{
		Users:        NewUserStore(pool),
		Facts:        NewFactStore(pool),
		Conversation: NewConversationStore(pool),
		Tasks:        NewTaskStore(pool),
		Alerts:       NewAlertStore(pool),
		Tokens:       NewTokenStore(pool),
		Events:       NewEventStore(pool),
		Audit:        NewAuditStore(pool),
		State:        NewStateStore(pool),
	}
}
