package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WeatherTool fetches a plain-text forecast. Available to every user.
type WeatherTool struct {
	baseURL string
	http    *http.Client
}

func NewWeatherTool(baseURL string) *WeatherTool {
	if baseURL == "" {
		baseURL = "https://wttr.in"
	}
	return &WeatherTool{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *WeatherTool) Name() string { return "weather" }

func (t *WeatherTool) Description() string {
	return "Get the current weather and short forecast for a location."
}

func (t *WeatherTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"location": map[string]any{"type": "string", "description": "City name, e.g. London"},
		},
		"required": []string{"location"},
	}
}

func (t *WeatherTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	location := StringArg(input, "location")
	if location == "" {
		return "", fmt.Errorf("location is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.baseURL+"/"+url.PathEscape(location)+"?format=3", nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("request timed out")
		}
		return "", fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

func (t *WeatherTool) Close() error {
	t.http.CloseIdleConnections()
	return nil
}
