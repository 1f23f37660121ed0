package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ChatStream sends one streaming messages-API call, invoking h for each
// event. The complete final response is reconstructed from the stream and
// returned, with Raw blocks suitable for tool-use passback.
// Only the connection phase is retried; once streaming starts there is no
// retry.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, h StreamHandler) (*ChatResponse, error) {
	body := c.buildRequestBody(req, true)

	respBody, err := RetryDo(ctx, c.retry, func() (io.ReadCloser, error) {
		return c.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &ChatResponse{StopReason: StopEndTurn}

	var cur *streamBlock
	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var currentEvent string
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := []byte(strings.TrimPrefix(line, "data: "))

		switch currentEvent {
		case "message_start":
			var ev struct {
				Message struct {
					Usage Usage `json:"usage"`
				} `json:"message"`
			}
			if json.Unmarshal(data, &ev) == nil {
				result.Usage.InputTokens = ev.Message.Usage.InputTokens
			}

		case "content_block_start":
			var ev struct {
				ContentBlock struct {
					Type string `json:"type"`
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"content_block"`
			}
			if json.Unmarshal(data, &ev) != nil {
				continue
			}
			cur = &streamBlock{
				blockType: ev.ContentBlock.Type,
				id:        ev.ContentBlock.ID,
				name:      ev.ContentBlock.Name,
			}
			if h.OnBlockStart != nil {
				h.OnBlockStart(cur.blockType, cur.name)
			}

		case "content_block_delta":
			var ev struct {
				Delta struct {
					Type        string `json:"type"`
					Text        string `json:"text"`
					PartialJSON string `json:"partial_json"`
				} `json:"delta"`
			}
			if json.Unmarshal(data, &ev) != nil || cur == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				cur.text.WriteString(ev.Delta.Text)
				if h.OnTextDelta != nil {
					h.OnTextDelta(ev.Delta.Text)
				}
			case "input_json_delta":
				cur.inputJSON.WriteString(ev.Delta.PartialJSON)
			}

		case "content_block_stop":
			if cur != nil {
				cur.finalize(result)
				if h.OnBlockStop != nil {
					h.OnBlockStop(cur.blockType)
				}
				cur = nil
			}

		case "message_delta":
			var ev struct {
				Delta struct {
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
				Usage Usage `json:"usage"`
			}
			if json.Unmarshal(data, &ev) == nil {
				if ev.Delta.StopReason != "" {
					result.StopReason = ev.Delta.StopReason
				}
				if ev.Usage.OutputTokens > 0 {
					result.Usage.OutputTokens = ev.Usage.OutputTokens
				}
			}

		case "error":
			var ev struct {
				Error apiError `json:"error"`
			}
			if json.Unmarshal(data, &ev) == nil {
				return nil, fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message)
			}

		case "message_stop", "ping":
			// nothing to do
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("anthropic: read stream: %w", err)
	}

	// Stream ended mid-block (disconnect): still keep what we have.
	if cur != nil {
		cur.finalize(result)
		if h.OnBlockStop != nil {
			h.OnBlockStop(cur.blockType)
		}
	}
	return result, nil
}

// streamBlock accumulates one content block across delta events.
type streamBlock struct {
	blockType string
	id        string
	name      string
	text      strings.Builder
	inputJSON strings.Builder
}

// finalize appends the accumulated block to the response, both parsed and
// as a raw block for assistant passback.
func (b *streamBlock) finalize(result *ChatResponse) {
	block := ContentBlock{Type: b.blockType, ID: b.id, Name: b.name}
	raw := map[string]any{"type": b.blockType}

	switch b.blockType {
	case BlockText:
		block.Text = b.text.String()
		raw["text"] = block.Text
	case BlockToolUse, BlockServerToolUse:
		input := b.inputJSON.String()
		if input == "" {
			input = "{}"
		}
		block.Input = json.RawMessage(input)
		raw["id"] = b.id
		raw["name"] = b.name
		raw["input"] = json.RawMessage(input)
	default:
		// Server tool results and other block types pass through by type
		// only; the API tolerates their omission on passback.
		if b.id != "" {
			raw["id"] = b.id
		}
	}

	result.Blocks = append(result.Blocks, block)
	if rawJSON, err := json.Marshal(raw); err == nil {
		result.Raw = append(result.Raw, rawJSON)
	}
}
