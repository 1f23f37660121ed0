package providers

import "encoding/json"

// Stop reasons returned by the messages API.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopPauseTurn = "pause_turn" // paused for server-side tool processing
	StopMaxTokens = "max_tokens"
)

// Content block types.
const (
	BlockText          = "text"
	BlockToolUse       = "tool_use"
	BlockServerToolUse = "server_tool_use"
)

// ImageAttachment is a base64-encoded image attached to a user message.
type ImageAttachment struct {
	MediaType string `json:"media_type"` // e.g. "image/jpeg"
	Data      string `json:"data"`       // base64 bytes
}

// Message is one conversation turn. When Blocks is set the content array is
// sent verbatim (assistant tool-use passback, tool results); otherwise Text
// becomes a plain string content, with Image prepended when present.
type Message struct {
	Role   string
	Text   string
	Blocks []json.RawMessage
	Image  *ImageAttachment
}

// ToolDefinition is the registry's OpenAI-shaped tool schema. It is
// unwrapped to the provider's {name, description, input_schema} form at
// call time.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the schema for a function tool.
type ToolFunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ServerTool is a provider-hosted tool entry (e.g. web_search_20250305),
// passed through to the API unchanged.
type ServerTool map[string]any

// ChatRequest is the input for one messages-API call.
type ChatRequest struct {
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	ServerTools []ServerTool
	Model       string
	MaxTokens   int
}

// ContentBlock is one parsed element of a response's content array.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolUse is a custom tool invocation requested by the model.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// Usage tracks token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse is the parsed result of one messages-API call.
// Raw preserves the verbatim content blocks for tool-use passback.
type ChatResponse struct {
	Blocks     []ContentBlock
	Raw        []json.RawMessage
	StopReason string
	Usage      Usage
}

// Text concatenates all text blocks.
func (r *ChatResponse) Text() string {
	var out string
	for _, b := range r.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the custom tool-use blocks with decoded inputs.
// Server-side tool blocks are excluded; the provider executes those.
func (r *ChatResponse) ToolUses() []ToolUse {
	var uses []ToolUse
	for _, b := range r.Blocks {
		if b.Type != BlockToolUse {
			continue
		}
		input := make(map[string]any)
		if len(b.Input) > 0 {
			_ = json.Unmarshal(b.Input, &input)
		}
		uses = append(uses, ToolUse{ID: b.ID, Name: b.Name, Input: input})
	}
	return uses
}

// HasServerToolUse reports whether any block is provider-hosted tool activity.
func (r *ChatResponse) HasServerToolUse() bool {
	for _, b := range r.Blocks {
		if b.Type == BlockServerToolUse {
			return true
		}
	}
	return false
}

// ToolResult is one tool execution outcome, keyed by the tool-use id.
type ToolResult struct {
	ToolUseID string
	Content   string
}

// ToolResultMessage builds the user-role message carrying tool results.
func ToolResultMessage(results []ToolResult) Message {
	blocks := make([]json.RawMessage, 0, len(results))
	for _, r := range results {
		b, _ := json.Marshal(map[string]any{
			"type":        "tool_result",
			"tool_use_id": r.ToolUseID,
			"content":     r.Content,
		})
		blocks = append(blocks, b)
	}
	return Message{Role: "user", Blocks: blocks}
}

// StreamHandler receives streaming callbacks. Any nil callback is skipped.
type StreamHandler struct {
	// OnTextDelta receives each text fragment as it arrives.
	OnTextDelta func(text string)
	// OnBlockStart fires when a content block opens; toolName is set for
	// tool_use and server_tool_use blocks.
	OnBlockStart func(blockType, toolName string)
	// OnBlockStop fires when a content block closes.
	OnBlockStop func(blockType string)
}
