package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// CalendarTool reads the user's calendar through their own OAuth
// credentials. Instantiated per user; the token is resolved lazily so an
// expired or missing grant surfaces as a readable tool result.
type CalendarTool struct {
	userID string
	tokens store.TokenStore
	http   *http.Client
}

// NewCalendarFactory returns a PerUserFactory producing calendar tools.
// One HTTP client is shared across instances.
func NewCalendarFactory(tokens store.TokenStore) PerUserFactory {
	client := &http.Client{Timeout: 15 * time.Second}
	return func(u *store.User) Tool {
		return &CalendarTool{userID: u.ID, tokens: tokens, http: client}
	}
}

const calendarAPIBase = "https://www.googleapis.com/calendar/v3"

func (t *CalendarTool) Name() string { return "calendar" }

func (t *CalendarTool) Description() string {
	return "List the user's upcoming calendar events."
}

func (t *CalendarTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"days": map[string]any{"type": "integer", "description": "How many days ahead to look (default 7)"},
		},
	}
}

func (t *CalendarTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	token, err := t.tokens.Get(ctx, t.userID, "google")
	if err != nil {
		return "", fmt.Errorf("token lookup: %w", err)
	}
	if token == nil {
		return "Error: no Google account linked for this user", nil
	}
	if !token.ExpiresAt.IsZero() && token.ExpiresAt.Before(time.Now()) {
		return "Error: Google credentials expired; re-link the account", nil
	}

	days := IntArg(input, "days", 7)
	now := time.Now().UTC()
	q := url.Values{}
	q.Set("timeMin", now.Format(time.RFC3339))
	q.Set("timeMax", now.AddDate(0, 0, days).Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		calendarAPIBase+"/calendars/primary/events?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := t.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("request timed out")
		}
		return "", fmt.Errorf("calendar request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(body), nil
}
