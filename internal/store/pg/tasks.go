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

// TaskStore implements store.TaskStore over the scheduled_tasks table.
type TaskStore struct {
	pool *pgxpool.Pool
}

func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

const taskColumns = `id, user_id, name, cron_expr, action, enabled, last_run, next_run, created_at`

func (s *TaskStore) Create(ctx context.Context, t *store.ScheduledTask) error {
	actionJSON, _ := json.Marshal(t.Action)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO scheduled_tasks (id, user_id, name, cron_expr, action, enabled, last_run, next_run, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING created_at`,
		t.ID, t.UserID, t.Name, t.Cron, actionJSON, t.Enabled, t.LastRun, t.NextRun,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func scanTask(row pgx.Row) (*store.ScheduledTask, error) {
	var t store.ScheduledTask
	var actionJSON []byte
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Cron, &actionJSON,
		&t.Enabled, &t.LastRun, &t.NextRun, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(actionJSON) > 0 {
		_ = json.Unmarshal(actionJSON, &t.Action)
	}
	return &t, nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (*store.ScheduledTask, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) ListByUser(ctx context.Context, userID string) ([]*store.ScheduledTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*store.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ClaimDue atomically claims all due enabled tasks. The claim nulls
// next_run in the same statement, so a second instance polling
// concurrently cannot pick up the same rows; Complete restores the
// recomputed next_run afterwards.
func (s *TaskStore) ClaimDue(ctx context.Context, now time.Time) ([]*store.ScheduledTask, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE scheduled_tasks
		SET next_run = NULL
		WHERE enabled AND next_run IS NOT NULL AND next_run <= $1
		RETURNING `+taskColumns,
		now)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*store.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *TaskStore) Complete(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scheduled_tasks SET last_run = $2, next_run = $3 WHERE id = $1`,
		id, lastRun, nextRun)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

func (s *TaskStore) Delete(ctx context.Context, userID, id string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM scheduled_tasks WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
