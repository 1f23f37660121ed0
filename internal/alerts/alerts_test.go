package alerts

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

type fakeAlerts struct {
	outcome store.TriggerOutcome
	unsent  []*store.Alert
	sent    []string
}

func (f *fakeAlerts) Trigger(_ context.Context, _ *store.Alert) (store.TriggerOutcome, error) {
	return f.outcome, nil
}
func (f *fakeAlerts) Resolve(_ context.Context, _ string) (bool, error) { return true, nil }
func (f *fakeAlerts) Unsent(_ context.Context) ([]*store.Alert, error)  { return f.unsent, nil }
func (f *fakeAlerts) MarkSent(_ context.Context, key string) error {
	f.sent = append(f.sent, key)
	return nil
}

func TestTriggerNotifiesOnNewAndRefire(t *testing.T) {
	tests := []struct {
		name       string
		outcome    store.TriggerOutcome
		wantNotify bool
	}{
		{"new alert notifies", store.TriggerNew, true},
		{"refire notifies", store.TriggerRefire, true},
		{"continued stays quiet", store.TriggerContinued, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeAlerts{outcome: tt.outcome}
			svc := NewService(fa)
			notified := 0
			svc.AddChannel("test", func(_ context.Context, _, _, _ string) error {
				notified++
				return nil
			})

			outcome, err := svc.Trigger(context.Background(), "disk_full", "check", "critical", "disk at 95%", nil)
			if err != nil {
				t.Fatal(err)
			}
			if outcome != tt.outcome {
				t.Errorf("outcome %v, want %v", outcome, tt.outcome)
			}
			if (notified > 0) != tt.wantNotify {
				t.Errorf("notified %d times, wantNotify %v", notified, tt.wantNotify)
			}
			if tt.wantNotify && len(fa.sent) != 1 {
				t.Errorf("mark-sent calls: %v", fa.sent)
			}
		})
	}
}

func TestTriggerAllChannelsFailSkipsMarkSent(t *testing.T) {
	fa := &fakeAlerts{outcome: store.TriggerNew}
	svc := NewService(fa)
	svc.AddChannel("down", func(_ context.Context, _, _, _ string) error {
		return errors.New("unreachable")
	})

	if _, err := svc.Trigger(context.Background(), "k", "check", "warning", "m", nil); err != nil {
		t.Fatal(err)
	}
	if len(fa.sent) != 0 {
		t.Errorf("mark-sent despite total delivery failure: %v", fa.sent)
	}
}

func TestTriggerOneChannelSuccessMarksSent(t *testing.T) {
	fa := &fakeAlerts{outcome: store.TriggerNew}
	svc := NewService(fa)
	svc.AddChannel("down", func(_ context.Context, _, _, _ string) error {
		return errors.New("unreachable")
	})
	svc.AddChannel("up", func(_ context.Context, _, _, _ string) error { return nil })

	if _, err := svc.Trigger(context.Background(), "k", "check", "warning", "m", nil); err != nil {
		t.Fatal(err)
	}
	if len(fa.sent) != 1 || fa.sent[0] != "k" {
		t.Errorf("mark-sent calls: %v", fa.sent)
	}
}

func TestRetryUnsent(t *testing.T) {
	fa := &fakeAlerts{unsent: []*store.Alert{
		{AlertKey: "a", Severity: "warning", Type: "check", Message: "m1"},
		{AlertKey: "b", Severity: "critical", Type: "check", Message: "m2"},
	}}
	svc := NewService(fa)
	var delivered []string
	svc.AddChannel("test", func(_ context.Context, _, _, message string) error {
		delivered = append(delivered, message)
		return nil
	})

	svc.RetryUnsent(context.Background())
	if len(delivered) != 2 {
		t.Fatalf("delivered %v", delivered)
	}
	if len(fa.sent) != 2 {
		t.Errorf("mark-sent calls: %v", fa.sent)
	}
}
