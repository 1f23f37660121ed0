package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HomeAssistantTool drives the smart-home controller's REST API.
// Gated by the "home" permission.
type HomeAssistantTool struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHomeAssistantTool(baseURL, token string) *HomeAssistantTool {
	return &HomeAssistantTool{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *HomeAssistantTool) Name() string { return "home_assistant" }

func (t *HomeAssistantTool) Description() string {
	return "Query and control smart home devices: read entity states or call services (turn lights on/off, set temperature, run scenes)."
}

func (t *HomeAssistantTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action":    map[string]any{"type": "string", "enum": []string{"get_state", "call_service"}},
			"entity_id": map[string]any{"type": "string", "description": "e.g. light.living_room"},
			"domain":    map[string]any{"type": "string", "description": "Service domain, e.g. light"},
			"service":   map[string]any{"type": "string", "description": "Service name, e.g. turn_on"},
			"data":      map[string]any{"type": "object", "description": "Service data payload"},
		},
		"required": []string{"action"},
	}
}

func (t *HomeAssistantTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	if t.baseURL == "" || t.token == "" {
		return "Error: BUTLER_HA_URL and BUTLER_HA_TOKEN must be configured", nil
	}

	switch StringArg(input, "action") {
	case "get_state":
		entity := StringArg(input, "entity_id")
		if entity == "" {
			return "", fmt.Errorf("entity_id is required for get_state")
		}
		return t.get(ctx, "/api/states/"+entity)

	case "call_service":
		domain, service := StringArg(input, "domain"), StringArg(input, "service")
		if domain == "" || service == "" {
			return "", fmt.Errorf("domain and service are required for call_service")
		}
		data := MapArg(input, "data")
		if data == nil {
			data = map[string]any{}
		}
		if e := StringArg(input, "entity_id"); e != "" {
			data["entity_id"] = e
		}
		return t.post(ctx, "/api/services/"+domain+"/"+service, data)

	default:
		return "", fmt.Errorf("action must be get_state or call_service")
	}
}

func (t *HomeAssistantTool) get(ctx context.Context, path string) (string, error) {
	return t.do(ctx, http.MethodGet, path, nil)
}

func (t *HomeAssistantTool) post(ctx context.Context, path string, payload map[string]any) (string, error) {
	body, _ := json.Marshal(payload)
	return t.do(ctx, http.MethodPost, path, body)
}

func (t *HomeAssistantTool) do(ctx context.Context, method, path string, body []byte) (string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("request timed out")
		}
		return "", fmt.Errorf("home assistant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	out, err := io.ReadAll(io.LimitReader(resp.Body, 32*1024))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(out), nil
}

func (t *HomeAssistantTool) Close() error {
	t.http.CloseIdleConnections()
	return nil
}
