package store

import (
	"context"
	"time"
)

// UserStore persists users and invite codes.
type UserStore interface {
	Get(ctx context.Context, id string) (*User, error)
	// Upsert creates the user if absent. On conflict existing attributes
	// are preserved; only the display name is refreshed when non-empty.
	Upsert(ctx context.Context, u *User) error
	// UpdateSoul replaces the user's soul record (validated by the caller).
	UpdateSoul(ctx context.Context, id string, soul Soul) error
	UpdatePrefs(ctx context.Context, id string, prefs NotificationPrefs) error
	// List returns all users except the reserved ids.
	List(ctx context.Context) ([]*User, error)
	// ListNotifiable returns users with a configured phone.
	ListNotifiable(ctx context.Context) ([]*User, error)
	// Delete removes the user; child rows cascade at the schema level.
	Delete(ctx context.Context, id string) error

	CreateInvite(ctx context.Context, code, createdBy string) error
	// RedeemInvite marks the code redeemed; returns false when the code is
	// unknown or already used.
	RedeemInvite(ctx context.Context, code, userID string) (bool, error)
}

// FactStore persists user facts with optional embeddings.
type FactStore interface {
	// Insert stores the fact. embedding may be nil (category-only recall).
	Insert(ctx context.Context, f *UserFact, embedding []float32) error
	// SearchSemantic ranks non-expired facts with embeddings by cosine
	// distance to the query vector, nearest first.
	SearchSemantic(ctx context.Context, userID string, query []float32, limit int) ([]*UserFact, error)
	// SearchByCategory returns non-expired facts ordered by confidence
	// descending then recency. Empty category matches all.
	SearchByCategory(ctx context.Context, userID, category string, limit int) ([]*UserFact, error)
	Delete(ctx context.Context, userID, factID string) error
}

// ConversationStore is the append-only turn log.
type ConversationStore interface {
	Append(ctx context.Context, m *ConversationMessage) error
	// Recent returns up to limit messages for the user, newest first.
	Recent(ctx context.Context, userID string, limit int) ([]*ConversationMessage, error)
	// RecentSince returns messages across all channels created after the
	// cutoff, oldest first, capped at limit.
	RecentSince(ctx context.Context, userID string, since time.Time, limit int) ([]*ConversationMessage, error)
}

// TaskStore persists scheduled tasks.
type TaskStore interface {
	Create(ctx context.Context, t *ScheduledTask) error
	Get(ctx context.Context, id string) (*ScheduledTask, error)
	ListByUser(ctx context.Context, userID string) ([]*ScheduledTask, error)
	// ClaimDue atomically claims enabled tasks with next_run <= now by
	// nulling next_run inside the claiming statement, so a concurrent
	// instance cannot claim the same task twice.
	ClaimDue(ctx context.Context, now time.Time) ([]*ScheduledTask, error)
	// Complete records last_run and the recomputed next_run (nil disables).
	Complete(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error
	Delete(ctx context.Context, userID, id string) error
}

// AlertStore persists deduplicated alert state.
type AlertStore interface {
	// Trigger upserts the alert row and classifies the transition.
	Trigger(ctx context.Context, a *Alert) (TriggerOutcome, error)
	// Resolve transitions active -> resolved; returns false if the key is
	// absent or already resolved.
	Resolve(ctx context.Context, alertKey string) (bool, error)
	// Unsent returns active alerts with notification_sent = false.
	Unsent(ctx context.Context) ([]*Alert, error)
	MarkSent(ctx context.Context, alertKey string) error
}

// TokenStore persists per-user OAuth credentials.
type TokenStore interface {
	Get(ctx context.Context, userID, provider string) (*OAuthToken, error)
	// Upsert saves the token. An empty RefreshToken preserves the one
	// already stored (providers omit it on refresh).
	Upsert(ctx context.Context, t *OAuthToken) error
	Delete(ctx context.Context, userID, provider string) error
}

// EventStore persists ingested webhook events.
type EventStore interface {
	Insert(ctx context.Context, e *WebhookEvent) (int64, error)
	MarkProcessed(ctx context.Context, id int64, notificationSent bool) error
}

// AuditStore persists tool usage records.
type AuditStore interface {
	Record(ctx context.Context, u *ToolUsage) error
	// Prune deletes audit rows older than the cutoff, returning the count.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	RecentForUser(ctx context.Context, userID string, limit int) ([]*ToolUsage, error)
}

// StateStore persists reconciled downstream service snapshots.
type StateStore interface {
	Put(ctx context.Context, s *ServiceState) error
	Get(ctx context.Context, service string) (*ServiceState, error)
}

// Stores aggregates every store backed by one shared pool.
type Stores struct {
	Users        UserStore
	Facts        FactStore
	Conversation ConversationStore
	Tasks        TaskStore
	Alerts       AlertStore
	Tokens       TokenStore
	Events       EventStore
	Audit        AuditStore
	State        StateStore
}
