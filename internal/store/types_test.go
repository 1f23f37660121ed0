package store

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name string
		user User
		perm string
		want bool
	}{
		{"admin passes everything", User{Role: RoleAdmin}, PermMedia, true},
		{"granted perm", User{Role: RoleUser, Permissions: []string{PermHome}}, PermHome, true},
		{"missing perm", User{Role: RoleUser, Permissions: []string{PermHome}}, PermMedia, false},
		{"no perms", User{Role: RoleUser}, PermHome, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.HasPermission(tt.perm); got != tt.want {
				t.Errorf("HasPermission(%q) = %v, want %v", tt.perm, got, tt.want)
			}
		})
	}
}

func TestTriggerOutcomeNeedsNotify(t *testing.T) {
	if !TriggerNew.NeedsNotify() {
		t.Error("TriggerNew should notify")
	}
	if !TriggerRefire.NeedsNotify() {
		t.Error("TriggerRefire should notify")
	}
	if TriggerContinued.NeedsNotify() {
		t.Error("TriggerContinued should not notify")
	}
}

func TestWebhookEventShouldNotify(t *testing.T) {
	tests := []struct {
		name  string
		event WebhookEvent
		want  bool
	}{
		{
			name:  "automation always notifies",
			event: WebhookEvent{EventType: "automation_triggered"},
			want:  true,
		},
		{
			name:  "notify attribute true",
			event: WebhookEvent{EventType: "state_changed", Attributes: map[string]any{"notify": true}},
			want:  true,
		},
		{
			name:  "notify attribute false",
			event: WebhookEvent{EventType: "state_changed", Attributes: map[string]any{"notify": false}},
			want:  false,
		},
		{
			name:  "notify attribute wrong type",
			event: WebhookEvent{EventType: "state_changed", Attributes: map[string]any{"notify": "yes"}},
			want:  false,
		},
		{
			name:  "no attributes",
			event: WebhookEvent{EventType: "state_changed"},
			want:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.ShouldNotify(); got != tt.want {
				t.Errorf("ShouldNotify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWebhookEventNotifyMessage(t *testing.T) {
	tests := []struct {
		name  string
		event WebhookEvent
		want  string
	}{
		{
			name: "explicit message wins",
			event: WebhookEvent{
				EntityID:   "sensor.door",
				NewState:   "open",
				Attributes: map[string]any{"message": "Front door opened!"},
			},
			want: "Front door opened!",
		},
		{
			name: "friendly name and transition",
			event: WebhookEvent{
				EntityID:   "sensor.door",
				OldState:   "closed",
				NewState:   "open",
				Attributes: map[string]any{"friendly_name": "Front Door"},
			},
			want: "Front Door changed from closed to open",
		},
		{
			name:  "new state only",
			event: WebhookEvent{EntityID: "sensor.door", NewState: "open"},
			want:  "sensor.door is now open",
		},
		{
			name:  "no states falls back to event type",
			event: WebhookEvent{EventType: "automation_triggered", EntityID: "automation.night"},
			want:  "automation_triggered: automation.night",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.NotifyMessage(); got != tt.want {
				t.Errorf("NotifyMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
