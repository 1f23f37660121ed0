package webhook

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

type fakeEvents struct {
	inserted  []*store.WebhookEvent
	processed map[int64]bool
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{processed: make(map[int64]bool)}
}

func (f *fakeEvents) Insert(_ context.Context, e *store.WebhookEvent) (int64, error) {
	f.inserted = append(f.inserted, e)
	return int64(len(f.inserted)), nil
}

func (f *fakeEvents) MarkProcessed(_ context.Context, id int64, sent bool) error {
	f.processed[id] = sent
	return nil
}

type fakeBroadcaster struct {
	messages []string
	sent     int
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, message, _ string) (int, error) {
	f.messages = append(f.messages, message)
	return f.sent, nil
}

type fakeAlerts struct {
	triggered []string
	resolved  []string
	outcome   store.TriggerOutcome
}

func (f *fakeAlerts) Trigger(_ context.Context, key, _, _, _ string, _ map[string]any) (store.TriggerOutcome, error) {
	f.triggered = append(f.triggered, key)
	return f.outcome, nil
}

func (f *fakeAlerts) Resolve(_ context.Context, key string) (bool, error) {
	f.resolved = append(f.resolved, key)
	return true, nil
}

func TestIngestPersistsAndNotifies(t *testing.T) {
	events := newFakeEvents()
	bc := &fakeBroadcaster{sent: 2}
	svc := NewService(events, bc, nil)

	body := []byte(`{"event_type": "state_changed", "entity_id": "sensor.door",
		"old_state": "closed", "new_state": "open",
		"attributes": {"notify": true, "friendly_name": "Front Door"}}`)

	result, err := svc.Ingest(context.Background(), "ha", body)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != "accepted" || result.EventID != 1 || !result.NotificationSent {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(bc.messages) != 1 || bc.messages[0] != "Front Door changed from closed to open" {
		t.Errorf("broadcast message: %v", bc.messages)
	}
	if sent, ok := events.processed[1]; !ok || !sent {
		t.Error("event not marked processed with notification")
	}
}

func TestIngestQuietEvent(t *testing.T) {
	events := newFakeEvents()
	bc := &fakeBroadcaster{sent: 1}
	svc := NewService(events, bc, nil)

	body := []byte(`{"event_type": "state_changed", "entity_id": "sensor.temp", "new_state": "21.5"}`)
	result, err := svc.Ingest(context.Background(), "ha", body)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != "ignored" || result.NotificationSent {
		t.Errorf("quiet event must be ignored: %+v", result)
	}
	if len(bc.messages) != 0 {
		t.Errorf("unexpected broadcast: %v", bc.messages)
	}
	if sent, ok := events.processed[1]; !ok || sent {
		t.Error("event should be processed without notification")
	}
}

func TestIngestRejectsBadPayloads(t *testing.T) {
	svc := NewService(newFakeEvents(), &fakeBroadcaster{}, nil)

	if _, err := svc.Ingest(context.Background(), "ha", []byte("not json")); err == nil {
		t.Error("malformed JSON accepted")
	}
	if _, err := svc.Ingest(context.Background(), "ha", []byte(`{"entity_id": "x"}`)); err == nil {
		t.Error("missing event_type accepted")
	}
}

func TestIngestRoutesAlertTrigger(t *testing.T) {
	alerts := &fakeAlerts{outcome: store.TriggerNew}
	svc := NewService(newFakeEvents(), &fakeBroadcaster{}, alerts)

	body := []byte(`{"event_type": "alert_triggered", "entity_id": "disk_full",
		"attributes": {"alert_key": "disk:/dev/sda1", "severity": "critical"}}`)
	result, err := svc.Ingest(context.Background(), "ha", body)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(alerts.triggered) != 1 || alerts.triggered[0] != "disk:/dev/sda1" {
		t.Fatalf("alert not triggered with attribute key: %v", alerts.triggered)
	}
	if result.Status != "accepted" || !result.NotificationSent {
		t.Errorf("new alert should be accepted: %+v", result)
	}

	// Continued alerts stay quiet.
	alerts.outcome = store.TriggerContinued
	result, err = svc.Ingest(context.Background(), "ha", body)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != "ignored" || result.NotificationSent {
		t.Errorf("continued alert must not re-notify: %+v", result)
	}
}

func TestIngestRoutesAlertResolve(t *testing.T) {
	alerts := &fakeAlerts{}
	svc := NewService(newFakeEvents(), &fakeBroadcaster{}, alerts)

	body := []byte(`{"event_type": "alert_resolved", "entity_id": "disk_full"}`)
	if _, err := svc.Ingest(context.Background(), "ha", body); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(alerts.resolved) != 1 || alerts.resolved[0] != "disk_full" {
		t.Fatalf("resolve not routed by entity id: %v", alerts.resolved)
	}
}

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		event store.WebhookEvent
		want  string
	}{
		{store.WebhookEvent{EventType: "automation_triggered"}, "alerts"},
		{store.WebhookEvent{EventType: "state_changed", EntityID: "media_player.tv"}, "media"},
		{store.WebhookEvent{EventType: "state_changed", EntityID: "light.kitchen"}, "home"},
	}
	for _, tt := range tests {
		if got := categoryFor(&tt.event); got != tt.want {
			t.Errorf("categoryFor(%s/%s) = %q, want %q",
				tt.event.EventType, tt.event.EntityID, got, tt.want)
		}
	}
}
