package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// ChannelFunc delivers one alert notification on a single channel.
// Returning an error marks that channel as failed; other channels still run.
type ChannelFunc func(ctx context.Context, severity, title, message string) error

// Service deduplicates alerts and fans notifications out to channels.
// A continued alert (still failing) never re-notifies; a refire after
// resolution does.
type Service struct {
	alerts   store.AlertStore
	channels map[string]ChannelFunc
}

func NewService(alerts store.AlertStore) *Service {
	return &Service{alerts: alerts, channels: make(map[string]ChannelFunc)}
}

// AddChannel registers a delivery channel under a name used in logs.
func (s *Service) AddChannel(name string, fn ChannelFunc) {
	s.channels[name] = fn
}

// Trigger records the alert and notifies when the transition warrants it.
// Returns the classified outcome.
func (s *Service) Trigger(ctx context.Context, alertKey, alertType, severity, message string, metadata map[string]any) (store.TriggerOutcome, error) {
	outcome, err := s.alerts.Trigger(ctx, &store.Alert{
		AlertKey: alertKey,
		Type:     alertType,
		Severity: severity,
		Message:  message,
		Metadata: metadata,
	})
	if err != nil {
		return outcome, err
	}
	if outcome.NeedsNotify() {
		s.notify(ctx, alertKey, severity, alertType, message)
	}
	return outcome, nil
}

// Resolve marks the alert resolved. Returns false when it was not active.
func (s *Service) Resolve(ctx context.Context, alertKey string) (bool, error) {
	resolved, err := s.alerts.Resolve(ctx, alertKey)
	if err != nil {
		return false, err
	}
	if resolved {
		slog.Info("alert resolved", "key", alertKey)
	}
	return resolved, nil
}

// RetryUnsent re-attempts delivery for active alerts whose notification
// never went out (channels were down at trigger time).
func (s *Service) RetryUnsent(ctx context.Context) {
	pending, err := s.alerts.Unsent(ctx)
	if err != nil {
		slog.Error("alerts: unsent lookup failed", "error", err)
		return
	}
	for _, a := range pending {
		s.notify(ctx, a.AlertKey, a.Severity, a.Type, a.Message)
	}
}

// RunRetry retries unsent alerts until ctx is cancelled.
func (s *Service) RunRetry(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RetryUnsent(ctx)
		}
	}
}

// notify fans out to every channel. One success marks the alert sent;
// per-channel failures are logged and otherwise ignored.
func (s *Service) notify(ctx context.Context, alertKey, severity, title, message string) {
	if len(s.channels) == 0 {
		return
	}
	anySent := false
	for name, fn := range s.channels {
		if err := fn(ctx, severity, title, message); err != nil {
			slog.Warn("alert channel failed", "channel", name, "key", alertKey, "error", err)
			continue
		}
		anySent = true
	}
	if !anySent {
		return
	}
	if err := s.alerts.MarkSent(ctx, alertKey); err != nil {
		slog.Warn("alert mark-sent failed", "key", alertKey, "error", err)
	}
}
