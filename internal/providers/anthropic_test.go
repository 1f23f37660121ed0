package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", WithBaseURL(srv.URL))
}

func TestChatParsesResponse(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		if got := r.Header.Get("Anthropic-Version"); got != "2023-06-01" {
			t.Errorf("version header = %q", got)
		}
		fmt.Fprint(w, `{
			"content": [
				{"type": "text", "text": "Checking. "},
				{"type": "tool_use", "id": "tu_1", "name": "weather", "input": {"location": "Hanoi"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 10, "output_tokens": 20}
		}`)
	})

	resp, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Text: "weather?"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StopReason != StopToolUse {
		t.Errorf("stop reason %q", resp.StopReason)
	}
	if resp.Text() != "Checking. " {
		t.Errorf("text %q", resp.Text())
	}
	uses := resp.ToolUses()
	if len(uses) != 1 || uses[0].Name != "weather" || uses[0].Input["location"] != "Hanoi" {
		t.Fatalf("tool uses: %+v", uses)
	}
	if len(resp.Raw) != 2 {
		t.Errorf("raw blocks preserved: %d", len(resp.Raw))
	}
	if resp.Usage.OutputTokens != 20 {
		t.Errorf("usage: %+v", resp.Usage)
	}
}

func TestChatRequestBodyShape(t *testing.T) {
	var got map[string]any
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		fmt.Fprint(w, `{"content": [{"type": "text", "text": "ok"}], "stop_reason": "end_turn"}`)
	})

	_, err := client.Chat(context.Background(), ChatRequest{
		System:   "be helpful",
		Messages: []Message{{Role: "user", Text: "hi"}},
		Tools: []ToolDefinition{{
			Type: "function",
			Function: ToolFunctionSchema{
				Name:        "weather",
				Description: "get weather",
				Parameters:  map[string]any{"type": "object"},
			},
		}},
		ServerTools: []ServerTool{{"type": "web_search_20250305", "name": "web_search"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if got["system"] != "be helpful" {
		t.Errorf("system = %v", got["system"])
	}
	tools, _ := got["tools"].([]any)
	if len(tools) != 2 {
		t.Fatalf("tools = %v", got["tools"])
	}
	// Registry tools are unwrapped from the OpenAI shape.
	first, _ := tools[0].(map[string]any)
	if first["name"] != "weather" || first["input_schema"] == nil || first["function"] != nil {
		t.Errorf("registry tool not unwrapped: %v", first)
	}
	// Server tools pass through verbatim.
	second, _ := tools[1].(map[string]any)
	if second["type"] != "web_search_20250305" {
		t.Errorf("server tool mangled: %v", second)
	}
}

func TestChatAPIError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"type": "invalid_request_error", "message": "bad model"}}`)
	})

	_, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Text: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "HTTP 400") {
		t.Fatalf("got %v", err)
	}
}

func TestChatRetriesServerErrors(t *testing.T) {
	calls := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"content": [{"type": "text", "text": "recovered"}], "stop_reason": "end_turn"}`)
	})

	resp, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Text: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("made %d calls, want 2", calls)
	}
	if resp.Text() != "recovered" {
		t.Errorf("text %q", resp.Text())
	}
}

const streamFixture = `event: message_start
data: {"message": {"usage": {"input_tokens": 12}}}

event: content_block_start
data: {"content_block": {"type": "text"}}

event: content_block_delta
data: {"delta": {"type": "text_delta", "text": "Hello "}}

event: content_block_delta
data: {"delta": {"type": "text_delta", "text": "world"}}

event: content_block_stop
data: {}

event: content_block_start
data: {"content_block": {"type": "tool_use", "id": "tu_9", "name": "weather"}}

event: content_block_delta
data: {"delta": {"type": "input_json_delta", "partial_json": "{\"location\":"}}

event: content_block_delta
data: {"delta": {"type": "input_json_delta", "partial_json": " \"Hanoi\"}"}}

event: content_block_stop
data: {}

event: message_delta
data: {"delta": {"stop_reason": "tool_use"}, "usage": {"output_tokens": 30}}

event: message_stop
data: {}

`

func TestChatStream(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, streamFixture)
	})

	var deltas []string
	var starts, stops []string
	resp, err := client.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Text: "hi"}},
	}, StreamHandler{
		OnTextDelta:  func(text string) { deltas = append(deltas, text) },
		OnBlockStart: func(blockType, _ string) { starts = append(starts, blockType) },
		OnBlockStop:  func(blockType string) { stops = append(stops, blockType) },
	})
	if err != nil {
		t.Fatal(err)
	}

	if strings.Join(deltas, "") != "Hello world" {
		t.Errorf("deltas: %v", deltas)
	}
	if len(starts) != 2 || starts[1] != BlockToolUse {
		t.Errorf("block starts: %v", starts)
	}
	if len(stops) != 2 {
		t.Errorf("block stops: %v", stops)
	}
	if resp.StopReason != StopToolUse {
		t.Errorf("stop reason %q", resp.StopReason)
	}

	uses := resp.ToolUses()
	if len(uses) != 1 || uses[0].ID != "tu_9" || uses[0].Input["location"] != "Hanoi" {
		t.Fatalf("tool uses: %+v", uses)
	}

	// Raw blocks must round-trip for assistant passback.
	if len(resp.Raw) != 2 {
		t.Fatalf("raw blocks: %d", len(resp.Raw))
	}
	var rawTool map[string]any
	if err := json.Unmarshal(resp.Raw[1], &rawTool); err != nil {
		t.Fatal(err)
	}
	if rawTool["type"] != "tool_use" || rawTool["id"] != "tu_9" {
		t.Errorf("raw tool block: %v", rawTool)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 30 {
		t.Errorf("usage: %+v", resp.Usage)
	}
}

func TestChatStreamDisconnectKeepsPartialBlock(t *testing.T) {
	// Stream cut off mid-block: no content_block_stop, no message_delta.
	truncated := `event: content_block_start
data: {"content_block": {"type": "text"}}

event: content_block_delta
data: {"delta": {"type": "text_delta", "text": "partial answer"}}

`
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, truncated)
	})

	stopped := 0
	resp, err := client.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Text: "hi"}},
	}, StreamHandler{
		OnBlockStop: func(string) { stopped++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text() != "partial answer" {
		t.Errorf("partial text lost: %q", resp.Text())
	}
	if stopped != 1 {
		t.Errorf("dangling block got %d stop callbacks, want 1", stopped)
	}
}
