package notify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// Transport delivers a message to one recipient address.
type Transport interface {
	Name() string
	// Deliver returns a short delivery status ("sent", "queued").
	Deliver(ctx context.Context, recipient, message string) (string, error)
}

// Notifier is the single outbound path for proactive messages. Every send
// runs the full gate chain: recipient validity, the user's notification
// toggle, category opt-in, quiet hours, then the per-user rate window.
type Notifier struct {
	users      store.UserStore
	transports []Transport
	maxPerHour int
	quietZone  *time.Location

	mu      sync.Mutex
	windows map[string][]time.Time

	// now is swapped in tests.
	now func() time.Time
}

func NewNotifier(users store.UserStore, maxPerHour int, quietTZ string, transports ...Transport) *Notifier {
	zone := time.Local
	if quietTZ != "" {
		if loc, err := time.LoadLocation(quietTZ); err == nil {
			zone = loc
		} else {
			slog.Warn("notify: bad quiet-hours zone, using local", "tz", quietTZ, "error", err)
		}
	}
	if maxPerHour <= 0 {
		maxPerHour = 10
	}
	return &Notifier{
		users:      users,
		transports: transports,
		maxPerHour: maxPerHour,
		quietZone:  zone,
		windows:    make(map[string][]time.Time),
		now:        time.Now,
	}
}

// Send delivers message to userID if every gate passes. Gate refusals are
// returned as a "skipped: ..." status with a nil error; only transport and
// store failures surface as errors.
func (n *Notifier) Send(ctx context.Context, userID, message, category string) (string, error) {
	user, err := n.users.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("user lookup: %w", err)
	}
	if user == nil || user.Phone == "" {
		return "skipped: no recipient configured", nil
	}
	if !user.NotifyPrefs.Enabled {
		return "skipped: notifications disabled", nil
	}
	if !categoryAllowed(user.NotifyPrefs.Categories, category) {
		return "skipped: category " + category + " not subscribed", nil
	}
	if inQuietHours(n.now().In(n.quietZone), user.NotifyPrefs.QuietStart, user.NotifyPrefs.QuietEnd) {
		return "skipped: quiet hours", nil
	}
	if !n.rateAllowed(userID) {
		return "skipped: rate limit reached", nil
	}

	var lastErr error
	for _, t := range n.transports {
		status, err := t.Deliver(ctx, user.Phone, message)
		if err != nil {
			slog.Warn("notify: transport failed", "transport", t.Name(), "user", userID, "error", err)
			lastErr = err
			continue
		}
		n.recordSend(userID)
		return status, nil
	}
	if lastErr != nil {
		return "", fmt.Errorf("all transports failed: %w", lastErr)
	}
	return "", fmt.Errorf("no transports configured")
}

// Broadcast sends the message to every notifiable user, returning how many
// deliveries actually went out.
func (n *Notifier) Broadcast(ctx context.Context, message, category string) (int, error) {
	users, err := n.users.ListNotifiable(ctx)
	if err != nil {
		return 0, fmt.Errorf("list notifiable: %w", err)
	}
	sent := 0
	for _, u := range users {
		status, err := n.Send(ctx, u.ID, message, category)
		if err != nil {
			slog.Warn("notify: broadcast send failed", "user", u.ID, "error", err)
			continue
		}
		if !strings.HasPrefix(status, "skipped") {
			sent++
		}
	}
	return sent, nil
}

// rateAllowed prunes the user's sliding one-hour window and reports
// whether a slot is free. The slot is consumed by recordSend only once a
// transport accepts, so a failed delivery does not count against the user.
func (n *Notifier) rateAllowed(userID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	cutoff := n.now().Add(-time.Hour)
	window := n.windows[userID]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	n.windows[userID] = kept
	return len(kept) < n.maxPerHour
}

func (n *Notifier) recordSend(userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.windows[userID] = append(n.windows[userID], n.now())
}

// categoryAllowed: an empty subscription list means everything.
func categoryAllowed(subscribed []string, category string) bool {
	if len(subscribed) == 0 {
		return true
	}
	return slices.Contains(subscribed, category)
}

// inQuietHours evaluates an HH:MM window against the local clock. Windows
// may wrap midnight (e.g. 22:00 to 07:00). A missing or unparsable bound
// disables the window.
func inQuietHours(now time.Time, start, end string) bool {
	startMin, ok1 := parseClock(start)
	endMin, ok2 := parseClock(end)
	if !ok1 || !ok2 || startMin == endMin {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if startMin < endMin {
		return cur >= startMin && cur < endMin
	}
	return cur >= startMin || cur < endMin
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
