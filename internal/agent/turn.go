package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/gobutler/internal/memory"
	"github.com/nextlevelbuilder/gobutler/internal/providers"
	"github.com/nextlevelbuilder/gobutler/internal/store"
	"github.com/nextlevelbuilder/gobutler/internal/tools"
)

// historyTurns caps how many stored messages feed the LLM context.
const historyTurns = 20

// FactExtractor mines a finished exchange for durable facts. Runs in the
// background; implementations must tolerate being handed a cancelled turn.
type FactExtractor interface {
	ExtractAsync(userID, userMessage, assistantMessage string)
}

// TurnRequest is one inbound user message on any channel.
type TurnRequest struct {
	UserID  string
	Channel string
	Message string
	Image   *providers.ImageAttachment
}

// Config holds the per-turn tunables.
type Config struct {
	Model         string
	MaxTokens     int
	MaxToolRounds int
	MaxImageBytes int64
	ServerTools   []providers.ServerTool
}

// Service runs complete conversation turns: context assembly, the tool
// loop, persistence and background fact extraction.
type Service struct {
	orch      *Orchestrator
	registry  *tools.Registry
	builder   *memory.ContextBuilder
	users     store.UserStore
	convo     store.ConversationStore
	extractor FactExtractor
	cfg       Config
}

func NewService(orch *Orchestrator, registry *tools.Registry, builder *memory.ContextBuilder, users store.UserStore, convo store.ConversationStore, extractor FactExtractor, cfg Config) *Service {
	return &Service{
		orch:      orch,
		registry:  registry,
		builder:   builder,
		users:     users,
		convo:     convo,
		extractor: extractor,
		cfg:       cfg,
	}
}

// Chat runs a batch-mode turn and returns the assistant's reply.
func (s *Service) Chat(ctx context.Context, req TurnRequest) (string, error) {
	return s.turn(ctx, req, nil)
}

// ChatStream runs a voice-mode turn, yielding text deltas.
func (s *Service) ChatStream(ctx context.Context, req TurnRequest, onDelta func(string)) (string, error) {
	return s.turn(ctx, req, func(ev Event) {
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

// ChatEvents runs a PWA-mode turn, yielding structured events.
func (s *Service) ChatEvents(ctx context.Context, req TurnRequest, emit func(Event)) (string, error) {
	return s.turn(ctx, req, emit)
}

func (s *Service) turn(ctx context.Context, req TurnRequest, emit func(Event)) (string, error) {
	if req.Message == "" && req.Image == nil {
		return "", fmt.Errorf("empty message")
	}
	if err := ValidateImage(req.Image, s.cfg.MaxImageBytes); err != nil {
		return "", err
	}

	user, err := s.users.Get(ctx, req.UserID)
	if err != nil {
		return "", fmt.Errorf("user lookup: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("unknown user %q", req.UserID)
	}

	system := s.builder.SystemPrompt(ctx, req.UserID)
	history, err := s.loadHistory(ctx, req.UserID)
	if err != nil {
		slog.Warn("turn: history load failed, continuing without", "user", req.UserID, "error", err)
	}

	// Persist the inbound message before the LLM call so the turn is on
	// record even if generation fails.
	if err := s.convo.Append(ctx, &store.ConversationMessage{
		UserID:  req.UserID,
		Channel: req.Channel,
		Role:    "user",
		Content: req.Message,
	}); err != nil {
		return "", fmt.Errorf("persist user message: %w", err)
	}

	reply, runErr := s.orch.run(ctx, Request{
		UserID:      req.UserID,
		Channel:     req.Channel,
		System:      system,
		Message:     req.Message,
		Image:       req.Image,
		History:     history,
		Tools:       s.registry.ForUser(user),
		ServerTools: s.cfg.ServerTools,
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		MaxRounds:   s.cfg.MaxToolRounds,
	}, emit)

	// Persist whatever text was generated, even on stream disconnect or a
	// mid-loop failure. Use a fresh context: the request's may be dead.
	if reply != "" {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.convo.Append(pctx, &store.ConversationMessage{
			UserID:  req.UserID,
			Channel: req.Channel,
			Role:    "assistant",
			Content: reply,
		}); err != nil {
			slog.Error("turn: persist assistant message failed", "user", req.UserID, "error", err)
		}
	}

	if runErr == nil && reply != "" && s.extractor != nil {
		s.extractor.ExtractAsync(req.UserID, req.Message, reply)
	}
	return reply, runErr
}

// loadHistory returns recent stored turns oldest first, as plain text
// messages ready for alternation repair in BuildMessages.
func (s *Service) loadHistory(ctx context.Context, userID string) ([]providers.Message, error) {
	rows, err := s.convo.Recent(ctx, userID, historyTurns)
	if err != nil {
		return nil, err
	}
	msgs := make([]providers.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		msgs = append(msgs, providers.Message{Role: rows[i].Role, Text: rows[i].Content})
	}
	return msgs, nil
}
