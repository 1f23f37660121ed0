package agent

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/gobutler/internal/providers"
	"github.com/nextlevelbuilder/gobutler/internal/tools"
)

// Apology returned when the tool loop hits its round bound.
const roundLimitApology = "I'm sorry, I couldn't finish that within a reasonable number of steps. Could you try rephrasing or breaking it up?"

// Spoken filler for the voice stream while a provider-hosted tool runs.
const serverToolLeadIn = "Let me look that up. "

var tracer = otel.Tracer("gobutler/agent")

// Request is one user turn through the orchestrator.
type Request struct {
	UserID      string
	Channel     string
	System      string
	Message     string
	Image       *providers.ImageAttachment
	History     []providers.Message
	Tools       map[string]tools.Tool
	ServerTools []providers.ServerTool
	Model       string
	MaxTokens   int
	MaxRounds   int
}

// Event is one element of the structured event stream (PWA mode).
type Event struct {
	Type     string `json:"type"` // "text_delta", "tool_start", "tool_end"
	Text     string `json:"text,omitempty"`
	ToolID   string `json:"tool_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	Server   bool   `json:"server,omitempty"`
}

// Orchestrator drives the multi-turn LLM tool-use loop.
type Orchestrator struct {
	llm        *providers.Client
	dispatcher *tools.Dispatcher
}

func NewOrchestrator(llm *providers.Client, dispatcher *tools.Dispatcher) *Orchestrator {
	return &Orchestrator{llm: llm, dispatcher: dispatcher}
}

// Run executes a turn in batch mode and returns the final text.
// Partial text accumulated before a failure is returned alongside the error
// so callers can persist what was generated.
func (o *Orchestrator) Run(ctx context.Context, req Request) (string, error) {
	return o.run(ctx, req, nil)
}

// RunStream executes a turn yielding text deltas as they arrive (voice
// mode). When a server-side tool starts, a spoken lead-in is yielded so
// the TTS pipeline has something to say during the wait.
func (o *Orchestrator) RunStream(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	return o.run(ctx, req, func(ev Event) {
		switch ev.Type {
		case "text_delta":
			onDelta(ev.Text)
		case "tool_start":
			if ev.Server {
				onDelta(serverToolLeadIn)
			}
		}
	})
}

// RunEvents executes a turn yielding tagged events around text and tool
// activity (PWA mode). A tool_end is always emitted for every tool_start,
// even if the provider stream ends mid-activity.
func (o *Orchestrator) RunEvents(ctx context.Context, req Request, emit func(Event)) (string, error) {
	return o.run(ctx, req, emit)
}

// run is the loop shared by all three modalities. emit == nil selects
// non-streaming LLM calls.
func (o *Orchestrator) run(ctx context.Context, req Request, emit func(Event)) (string, error) {
	maxRounds := req.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 5
	}

	messages := BuildMessages(req.History, req.Message, req.Image)
	var final strings.Builder

	for round := 1; round <= maxRounds; round++ {
		resp, err := o.callLLM(ctx, req, messages, emit)
		if err != nil {
			return final.String(), err
		}

		if text := resp.Text(); text != "" {
			if final.Len() > 0 {
				final.WriteString("\n")
			}
			final.WriteString(text)
		}

		toolUses := resp.ToolUses()

		// Paused for provider-hosted tool processing: pass the raw
		// assistant content back and let the provider continue.
		if len(toolUses) == 0 && resp.StopReason == providers.StopPauseTurn {
			messages = append(messages, providers.Message{Role: "assistant", Blocks: resp.Raw})
			continue
		}

		// No tool use at all: the turn is finished (possibly empty).
		if len(toolUses) == 0 {
			return final.String(), nil
		}

		// Execute requested tools sequentially so result ordering is
		// deterministic, then append assistant blocks + results.
		results := make([]providers.ToolResult, 0, len(toolUses))
		for _, tu := range toolUses {
			if emit != nil {
				emit(Event{Type: "tool_start", ToolID: tu.ID, ToolName: tu.Name})
			}
			result := o.executeTool(ctx, req, tu)
			if emit != nil {
				emit(Event{Type: "tool_end", ToolID: tu.ID, ToolName: tu.Name})
			}
			results = append(results, providers.ToolResult{ToolUseID: tu.ID, Content: result})
		}

		messages = append(messages, providers.Message{Role: "assistant", Blocks: resp.Raw})
		messages = append(messages, providers.ToolResultMessage(results))
	}

	slog.Warn("tool loop hit round limit", "user", req.UserID, "rounds", maxRounds)
	if emit != nil {
		emit(Event{Type: "text_delta", Text: roundLimitApology})
	}
	if final.Len() > 0 {
		final.WriteString("\n")
	}
	final.WriteString(roundLimitApology)
	return final.String(), nil
}

func (o *Orchestrator) callLLM(ctx context.Context, req Request, messages []providers.Message, emit func(Event)) (*providers.ChatResponse, error) {
	chatReq := providers.ChatRequest{
		System:      req.System,
		Messages:    messages,
		Tools:       tools.Definitions(req.Tools),
		ServerTools: req.ServerTools,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
	}

	ctx, span := tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("user.id", req.UserID),
		attribute.Int("messages", len(messages)),
	))
	defer span.End()

	if emit == nil {
		return o.llm.Chat(ctx, chatReq)
	}

	// Track provider-hosted tool activity so a dangling block still gets
	// its closing tool_end.
	var openServerTool string
	resp, err := o.llm.ChatStream(ctx, chatReq, providers.StreamHandler{
		OnTextDelta: func(text string) {
			emit(Event{Type: "text_delta", Text: text})
		},
		OnBlockStart: func(blockType, toolName string) {
			if blockType == providers.BlockServerToolUse {
				openServerTool = toolName
				emit(Event{Type: "tool_start", ToolName: toolName, Server: true})
			}
		},
		OnBlockStop: func(blockType string) {
			if blockType == providers.BlockServerToolUse && openServerTool != "" {
				emit(Event{Type: "tool_end", ToolName: openServerTool, Server: true})
				openServerTool = ""
			}
		},
	})
	if openServerTool != "" {
		// Stream ended mid-activity.
		emit(Event{Type: "tool_end", ToolName: openServerTool, Server: true})
	}
	return resp, err
}

func (o *Orchestrator) executeTool(ctx context.Context, req Request, tu providers.ToolUse) string {
	ctx, span := tracer.Start(ctx, "tool.exec", trace.WithAttributes(
		attribute.String("tool.name", tu.Name),
		attribute.String("user.id", req.UserID),
	))
	defer span.End()
	return o.dispatcher.ExecuteAndLog(ctx, tu.Name, tu.Input, req.Tools, req.UserID, req.Channel)
}
