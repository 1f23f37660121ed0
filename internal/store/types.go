package store

import (
	"encoding/json"
	"time"
)

// Reserved user IDs that must never appear in admin listings.
const (
	DefaultUserID = "default"
	SystemUserID  = "system"
)

// Role values for User.Role.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Permission vocabulary. A user's Permissions is a subset of these;
// the admin role implies all of them.
const (
	PermMedia      = "media"
	PermHome       = "home"
	PermClaudeCode = "claude_code"
	PermAdmin      = "admin"
)

// KnownPermissions is the closed permission vocabulary.
var KnownPermissions = []string{PermMedia, PermHome, PermClaudeCode, PermAdmin}

// Soul is the open-ended per-user personalization record.
// All fields are optional; absent layers are skipped during prompt assembly.
type Soul struct {
	Style              string `json:"style,omitempty"`
	Verbosity          string `json:"verbosity,omitempty"`
	Humor              string `json:"humor,omitempty"`
	CustomInstructions string `json:"custom_instructions,omitempty"`
	ButlerName         string `json:"butler_name,omitempty"`
}

// SoulKeys is the closed allowlist of soul fields, validated before write.
var SoulKeys = map[string]bool{
	"style":               true,
	"verbosity":           true,
	"humor":               true,
	"custom_instructions": true,
	"butler_name":         true,
}

// NotificationPrefs controls outbound message delivery for one user.
type NotificationPrefs struct {
	Enabled    bool     `json:"enabled"`
	Categories []string `json:"categories,omitempty"`
	QuietStart string   `json:"quiet_start,omitempty"` // "HH:MM"
	QuietEnd   string   `json:"quiet_end,omitempty"`   // "HH:MM"
}

// DefaultNotifyPrefs is the starting point for new accounts: delivery on,
// all categories, no quiet hours. Opting out is an explicit prefs update.
func DefaultNotifyPrefs() NotificationPrefs {
	return NotificationPrefs{Enabled: true}
}

// User is an account with personalization and permissions.
type User struct {
	ID          string
	Name        string
	Role        string
	Permissions []string
	Soul        Soul
	Phone       string
	NotifyPrefs NotificationPrefs
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// HasPermission reports whether the user may use tools gated by perm.
// Admins pass every check.
func (u *User) HasPermission(perm string) bool {
	if u.IsAdmin() {
		return true
	}
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Fact categories.
const (
	FactPreference   = "preference"
	FactSchedule     = "schedule"
	FactRelationship = "relationship"
	FactWork         = "work"
	FactHealth       = "health"
	FactOther        = "other"
)

// Fact sources.
const (
	SourceConversation   = "conversation"
	SourceAutoExtraction = "auto_extraction"
	SourceExplicit       = "explicit"
)

// UserFact is a durable learned fact about a user.
type UserFact struct {
	ID         string
	UserID     string
	Fact       string
	Category   string
	Confidence float64
	Source     string
	// Relevance is set on semantic recall only: 100 * (1 - cosine distance).
	Relevance float64
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Conversation channels.
const (
	ChannelVoice    = "voice"
	ChannelPWA      = "pwa"
	ChannelWhatsApp = "whatsapp"
	ChannelTelegram = "telegram"
)

// ConversationMessage is one immutable turn in a user's history.
type ConversationMessage struct {
	ID        int64
	UserID    string
	Channel   string
	Role      string // "user" or "assistant"
	Content   string
	Metadata  map[string]any
	Source    string
	CreatedAt time.Time
}

// Task action types.
const (
	ActionReminder   = "reminder"
	ActionAutomation = "automation"
	ActionCheck      = "check"
)

// TaskAction is the tagged payload attached to a scheduled task.
type TaskAction struct {
	Type     string         `json:"type"`
	Message  string         `json:"message,omitempty"`  // reminder
	Category string         `json:"category,omitempty"` // reminder
	Tool     string         `json:"tool,omitempty"`     // automation, check
	Params   map[string]any `json:"params,omitempty"`   // automation, check
	NotifyOn string         `json:"notify_on,omitempty"` // check: "warning", "critical", "always"
}

// ScheduledTask is a cron or one-shot work unit.
// NextRun is nil iff the task is disabled or its cron expression is invalid.
type ScheduledTask struct {
	ID        string
	UserID    string
	Name      string
	Cron      string // empty for one-shot
	Action    TaskAction
	Enabled   bool
	LastRun   *time.Time
	NextRun   *time.Time
	CreatedAt time.Time
}

// Alert severities.
const (
	SeverityInfo      = "info"
	SeverityWarning   = "warning"
	SeverityCritical  = "critical"
	SeverityEmergency = "emergency"
)

// Alert is deduplicated failure state keyed by AlertKey.
type Alert struct {
	AlertKey         string
	Type             string
	Severity         string
	Message          string
	Metadata         map[string]any
	FirstTriggered   time.Time
	LastTriggered    time.Time
	ResolvedAt       *time.Time
	NotificationSent bool
}

// TriggerOutcome classifies what an alert trigger did.
type TriggerOutcome int

const (
	// TriggerNew: no row existed; a new active alert was inserted.
	TriggerNew TriggerOutcome = iota
	// TriggerRefire: the alert had been resolved and fired again.
	TriggerRefire
	// TriggerContinued: the alert was already active; no notification needed.
	TriggerContinued
)

// NeedsNotify reports whether the outcome requires a fresh notification.
func (o TriggerOutcome) NeedsNotify() bool { return o == TriggerNew || o == TriggerRefire }

// OAuthToken holds per-user external credentials for one provider.
type OAuthToken struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
	AccountID    string
}

// WebhookEvent is an ingested domain event (ha_events table).
type WebhookEvent struct {
	ID               int64
	EventType        string
	EntityID         string
	OldState         string
	NewState         string
	Attributes       map[string]any
	Processed        bool
	NotificationSent bool
	ReceivedAt       time.Time
}

// NotifyMessage returns the outbound message for the event: an explicit
// attributes.message wins, otherwise a default is derived from the event.
func (e *WebhookEvent) NotifyMessage() string {
	if m, ok := e.Attributes["message"].(string); ok && m != "" {
		return m
	}
	name := e.EntityID
	if fn, ok := e.Attributes["friendly_name"].(string); ok && fn != "" {
		name = fn
	}
	switch {
	case e.OldState != "" && e.NewState != "":
		return name + " changed from " + e.OldState + " to " + e.NewState
	case e.NewState != "":
		return name + " is now " + e.NewState
	default:
		return e.EventType + ": " + name
	}
}

// ShouldNotify reports whether the event fans out to subscribers.
// automation_triggered events are always noteworthy.
func (e *WebhookEvent) ShouldNotify() bool {
	if e.EventType == "automation_triggered" {
		return true
	}
	v, ok := e.Attributes["notify"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// ToolUsage is one audit record for a dispatched tool call.
type ToolUsage struct {
	ID        int64
	UserID    string
	ToolName  string
	Params    map[string]any
	Result    string // truncated summary
	Error     string // empty when the call succeeded
	Duration  time.Duration
	Channel   string
	CreatedAt time.Time
}

// InviteCode gates account creation.
type InviteCode struct {
	Code       string
	CreatedBy  string
	RedeemedBy string
	RedeemedAt *time.Time
	CreatedAt  time.Time
}

// ServiceState is a reconciled snapshot for one downstream service,
// written by the metadata sync loop.
type ServiceState struct {
	Service   string
	Payload   json.RawMessage
	UpdatedAt time.Time
}
