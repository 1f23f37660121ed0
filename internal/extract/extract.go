package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/gobutler/internal/memory"
	"github.com/nextlevelbuilder/gobutler/internal/providers"
	"github.com/nextlevelbuilder/gobutler/internal/store"
)

const (
	// assistantPrefixMax caps how much assistant text goes to the extractor.
	assistantPrefixMax = 2000
	// minConfidence drops speculative facts on the floor.
	minConfidence = 0.7

	extractTimeout = 30 * time.Second
)

const extractionPrompt = `You extract durable personal facts from a conversation exchange.

Return ONLY a JSON array. Each element: {"fact": "...", "category": "...", "confidence": 0.0-1.0}.
Categories: preference, schedule, relationship, work, health, other.
Only include facts that will still matter in a month (preferences, routines,
relationships, commitments). Never include one-off requests, small talk, or
anything the assistant said about itself. Return [] when there is nothing.`

// Extractor mines finished exchanges for facts worth remembering, in the
// background, with a cheap dedicated LLM call.
type Extractor struct {
	llm    *providers.Client
	mem    *memory.Service
	model  string
	wg     sync.WaitGroup
}

func New(llm *providers.Client, mem *memory.Service, model string) *Extractor {
	return &Extractor{llm: llm, mem: mem, model: model}
}

// ExtractAsync runs extraction in a goroutine. Failures are logged and
// dropped; extraction must never affect the user-facing turn.
func (e *Extractor) ExtractAsync(userID, userMessage, assistantMessage string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), extractTimeout)
		defer cancel()
		if err := e.extract(ctx, userID, userMessage, assistantMessage); err != nil {
			slog.Warn("fact extraction failed", "user", userID, "error", err)
		}
	}()
}

// Wait blocks until in-flight extractions finish. Called at shutdown.
func (e *Extractor) Wait() { e.wg.Wait() }

func (e *Extractor) extract(ctx context.Context, userID, userMessage, assistantMessage string) error {
	if strings.TrimSpace(userMessage) == "" {
		return nil
	}
	if len(assistantMessage) > assistantPrefixMax {
		assistantMessage = assistantMessage[:assistantPrefixMax]
	}

	resp, err := e.llm.Chat(ctx, providers.ChatRequest{
		System: extractionPrompt,
		Messages: []providers.Message{{
			Role: "user",
			Text: fmt.Sprintf("User: %s\n\nAssistant: %s", userMessage, assistantMessage),
		}},
		Model:     e.model,
		MaxTokens: 1024,
	})
	if err != nil {
		return fmt.Errorf("extraction call: %w", err)
	}

	candidates, err := parseFacts(resp.Text())
	if err != nil {
		return fmt.Errorf("parse extraction output: %w", err)
	}

	stored := 0
	for _, c := range candidates {
		if c.Confidence < minConfidence || strings.TrimSpace(c.Fact) == "" {
			continue
		}
		if err := e.mem.Remember(ctx, userID, c.Fact, c.Category, c.Confidence, store.SourceAutoExtraction); err != nil {
			slog.Warn("fact extraction: store failed", "user", userID, "error", err)
			continue
		}
		stored++
	}
	if stored > 0 {
		slog.Info("facts extracted", "user", userID, "stored", stored, "candidates", len(candidates))
	}
	return nil
}

type candidate struct {
	Fact       string  `json:"fact"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// parseFacts tolerates prose around the JSON array; models wrap output in
// code fences or add a preamble despite instructions.
func parseFacts(text string) ([]candidate, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in output")
	}
	var out []candidate
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, err
	}
	return out, nil
}
