package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultModel        = "claude-sonnet-4-5-20250929"
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 4096
)

// Client talks to the Anthropic messages API via net/http.
type Client struct {
	apiKey       string
	baseURL      string
	defaultModel string
	http         *http.Client
	retry        RetryConfig
}

// NewClient creates an Anthropic client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:       apiKey,
		baseURL:      anthropicAPIBase,
		defaultModel: defaultModel,
		http:         &http.Client{Timeout: 120 * time.Second},
		retry:        DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.defaultModel = model
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

var (
	sharedMu     sync.Mutex
	sharedClient *Client
)

// Shared returns the process-wide client, constructing it on first use.
func Shared(apiKey string, opts ...Option) *Client {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedClient == nil {
		sharedClient = NewClient(apiKey, opts...)
	}
	return sharedClient
}

// Chat sends one non-streaming messages-API call.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := c.buildRequestBody(req, false)

	return RetryDo(ctx, c.retry, func() (*ChatResponse, error) {
		respBody, err := c.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp apiResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("anthropic: decode response: %w", err)
		}
		return parseResponse(&resp)
	})
}

// apiResponse is the wire shape of a non-streaming response.
type apiResponse struct {
	Content    []json.RawMessage `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      Usage             `json:"usage"`
	Error      *apiError         `json:"error,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func parseResponse(resp *apiResponse) (*ChatResponse, error) {
	if resp.Error != nil {
		return nil, fmt.Errorf("anthropic: %s: %s", resp.Error.Type, resp.Error.Message)
	}
	out := &ChatResponse{
		Raw:        resp.Content,
		StopReason: resp.StopReason,
		Usage:      resp.Usage,
	}
	for _, raw := range resp.Content {
		var b ContentBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			continue
		}
		out.Blocks = append(out.Blocks, b)
	}
	return out, nil
}

// buildRequestBody assembles the messages-API payload. Registry tools are
// unwrapped from their OpenAI shape; server tools pass through verbatim.
func (c *Client) buildRequestBody(req ChatRequest, stream bool) map[string]any {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   buildMessages(req.Messages),
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if stream {
		body["stream"] = true
	}

	var tools []any
	for _, t := range req.Tools {
		tools = append(tools, map[string]any{
			"name":         t.Function.Name,
			"description":  t.Function.Description,
			"input_schema": t.Function.Parameters,
		})
	}
	for _, st := range req.ServerTools {
		tools = append(tools, st)
	}
	if len(tools) > 0 {
		body["tools"] = tools
	}
	return body
}

func buildMessages(msgs []Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case len(m.Blocks) > 0:
			out = append(out, map[string]any{"role": m.Role, "content": m.Blocks})
		case m.Image != nil:
			blocks := []map[string]any{{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": m.Image.MediaType,
					"data":       m.Image.Data,
				},
			}}
			if m.Text != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Text})
			}
			out = append(out, map[string]any{"role": m.Role, "content": blocks})
		default:
			out = append(out, map[string]any{"role": m.Role, "content": m.Text})
		}
	}
	return out
}

// doRequest posts the body and returns the response stream. Non-2xx
// statuses are drained and surfaced; 429 and 5xx are marked retryable.
func (c *Client) doRequest(ctx context.Context, body map[string]any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicAPIVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, Retryable(fmt.Errorf("anthropic: request: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("anthropic: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, Retryable(err)
		}
		return nil, err
	}
	return resp.Body, nil
}
