package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// Broadcaster fans a message out to all notifiable users.
// Implemented by notify.Notifier.
type Broadcaster interface {
	Broadcast(ctx context.Context, message, category string) (int, error)
}

// AlertSink receives alert lifecycle events. Implemented by alerts.Service.
type AlertSink interface {
	Trigger(ctx context.Context, alertKey, alertType, severity, message string, metadata map[string]any) (store.TriggerOutcome, error)
	Resolve(ctx context.Context, alertKey string) (bool, error)
}

// Payload is the inbound event body posted by the home automation hub.
type Payload struct {
	EventType  string         `json:"event_type"`
	EntityID   string         `json:"entity_id"`
	OldState   string         `json:"old_state"`
	NewState   string         `json:"new_state"`
	Attributes map[string]any `json:"attributes"`
}

// Result summarizes what ingestion did; it is the HTTP response body.
// Status is "accepted" when a notification went out and "ignored" when the
// event was persisted without fan-out.
type Result struct {
	Status           string `json:"status"`
	EventID          int64  `json:"event_id"`
	NotificationSent bool   `json:"notification_sent"`
}

// Service persists inbound events and decides whether they fan out.
// Notification failures never fail ingestion; the event is on record
// either way.
type Service struct {
	events      store.EventStore
	broadcaster Broadcaster
	alerts      AlertSink // optional
}

func NewService(events store.EventStore, broadcaster Broadcaster, alerts AlertSink) *Service {
	return &Service{events: events, broadcaster: broadcaster, alerts: alerts}
}

// Ingest handles one posted event: persist, decide, compose, fan out,
// mark processed.
func (s *Service) Ingest(ctx context.Context, source string, body []byte) (*Result, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.EventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}

	event := &store.WebhookEvent{
		EventType:  p.EventType,
		EntityID:   p.EntityID,
		OldState:   p.OldState,
		NewState:   p.NewState,
		Attributes: p.Attributes,
	}
	id, err := s.events.Insert(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("persist event: %w", err)
	}
	event.ID = id

	sent := false
	switch p.EventType {
	case "alert_triggered", "alert_resolved":
		if s.alerts != nil {
			sent = s.routeAlert(ctx, event)
		}
	default:
		sent = s.fanOut(ctx, event)
	}

	if err := s.events.MarkProcessed(ctx, id, sent); err != nil {
		slog.Warn("webhook: mark processed failed", "event", id, "error", err)
	}

	status := "ignored"
	if sent {
		status = "accepted"
	}
	slog.Info("webhook event ingested",
		"source", source, "event", id, "type", p.EventType, "entity", p.EntityID, "status", status)
	return &Result{Status: status, EventID: id, NotificationSent: sent}, nil
}

// routeAlert feeds alert lifecycle events to the dedup service. The sink
// decides whether anyone hears about it.
func (s *Service) routeAlert(ctx context.Context, e *store.WebhookEvent) bool {
	key := e.EntityID
	if k, ok := e.Attributes["alert_key"].(string); ok && k != "" {
		key = k
	}
	if key == "" {
		slog.Warn("webhook: alert event without a key", "event", e.ID)
		return false
	}

	if e.EventType == "alert_resolved" {
		if _, err := s.alerts.Resolve(ctx, key); err != nil {
			slog.Error("webhook: alert resolve failed", "key", key, "error", err)
		}
		return false
	}

	severity, _ := e.Attributes["severity"].(string)
	if severity == "" {
		severity = store.SeverityWarning
	}
	outcome, err := s.alerts.Trigger(ctx, key, e.EntityID, severity, e.NotifyMessage(), e.Attributes)
	if err != nil {
		slog.Error("webhook: alert trigger failed", "key", key, "error", err)
		return false
	}
	return outcome.NeedsNotify()
}

// fanOut broadcasts a plain event to subscribers when it asks for it.
func (s *Service) fanOut(ctx context.Context, event *store.WebhookEvent) bool {
	if !event.ShouldNotify() {
		return false
	}
	n, err := s.broadcaster.Broadcast(ctx, event.NotifyMessage(), categoryFor(event))
	if err != nil {
		slog.Error("webhook: broadcast failed", "event", event.ID, "error", err)
	}
	return n > 0
}

// categoryFor maps an event to a notification category so users can
// subscribe selectively.
func categoryFor(e *store.WebhookEvent) string {
	if e.EventType == "automation_triggered" {
		return "alerts"
	}
	if strings.HasPrefix(e.EntityID, "media_player.") {
		return "media"
	}
	return "home"
}
