package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// MediaTool queries the media manager API (library search, download
// queue, library stats). Gated by the "media" permission. Library stats
// prefer the sync loop's reconciled snapshot over a live API call.
type MediaTool struct {
	baseURL string
	apiKey  string
	state   store.StateStore
	http    *http.Client
}

func NewMediaTool(baseURL, apiKey string, state store.StateStore) *MediaTool {
	return &MediaTool{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		state:   state,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

func (t *MediaTool) Name() string { return "media_library" }

func (t *MediaTool) Description() string {
	return "Search the media library, check the download queue, or get library statistics."
}

func (t *MediaTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{"type": "string", "enum": []string{"search", "queue", "stats"}},
			"query":  map[string]any{"type": "string", "description": "Search terms"},
		},
		"required": []string{"action"},
	}
}

func (t *MediaTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	switch StringArg(input, "action") {
	case "search":
		query := StringArg(input, "query")
		if query == "" {
			return "", fmt.Errorf("query is required for search")
		}
		return t.get(ctx, "/api/v3/search?term="+url.QueryEscape(query))

	case "queue":
		return t.get(ctx, "/api/v3/queue")

	case "stats":
		// The sync loop keeps a fresh snapshot; fall back to the API.
		if t.state != nil {
			if snap, err := t.state.Get(ctx, "media"); err == nil && snap != nil {
				return fmt.Sprintf("Library stats (as of %s): %s",
					snap.UpdatedAt.UTC().Format(time.RFC3339), string(snap.Payload)), nil
			}
		}
		return t.get(ctx, "/api/v3/library/stats")

	default:
		return "", fmt.Errorf("action must be search, queue or stats")
	}
}

func (t *MediaTool) get(ctx context.Context, path string) (string, error) {
	if t.baseURL == "" {
		return "Error: BUTLER_MEDIA_URL must be configured", nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", t.apiKey)

	resp, err := t.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("request timed out")
		}
		return "", fmt.Errorf("media request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	// Compact JSON to keep tool results small.
	var compact json.RawMessage
	if json.Unmarshal(body, &compact) == nil {
		if c, err := json.Marshal(compact); err == nil {
			return string(c), nil
		}
	}
	return string(body), nil
}

func (t *MediaTool) Close() error {
	t.http.CloseIdleConnections()
	return nil
}
