package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/gobutler/internal/memory"
	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// RememberTool stores a durable fact about the user.
type RememberTool struct {
	svc *memory.Service
}

func NewRememberTool(svc *memory.Service) *RememberTool {
	return &RememberTool{svc: svc}
}

func (t *RememberTool) Name() string { return "remember_fact" }

func (t *RememberTool) Description() string {
	return "Store a durable fact about the user (preferences, schedule, relationships, work, health). Use when the user shares something worth remembering."
}

func (t *RememberTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_id": map[string]any{"type": "string", "description": "Owner of the fact"},
			"fact":    map[string]any{"type": "string", "description": "The fact, phrased as a standalone sentence"},
			"category": map[string]any{
				"type": "string",
				"enum": []string{store.FactPreference, store.FactSchedule, store.FactRelationship, store.FactWork, store.FactHealth, store.FactOther},
			},
			"confidence": map[string]any{"type": "number", "description": "0.0-1.0, how certain the fact is"},
		},
		"required": []string{"user_id", "fact"},
	}
}

func (t *RememberTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	fact := StringArg(input, "fact")
	if fact == "" {
		return "", fmt.Errorf("fact is required")
	}
	err := t.svc.Remember(ctx,
		StringArg(input, "user_id"),
		fact,
		StringArg(input, "category"),
		FloatArg(input, "confidence", 0.8),
		store.SourceConversation)
	if err != nil {
		return "", err
	}
	return "Remembered: " + fact, nil
}

// RecallTool retrieves stored facts, semantically when a query is given.
type RecallTool struct {
	svc *memory.Service
}

func NewRecallTool(svc *memory.Service) *RecallTool {
	return &RecallTool{svc: svc}
}

func (t *RecallTool) Name() string { return "recall_facts" }

func (t *RecallTool) Description() string {
	return "Recall stored facts about the user. Provide a query for semantic search, or a category to browse."
}

func (t *RecallTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_id":  map[string]any{"type": "string"},
			"query":    map[string]any{"type": "string", "description": "Free-text semantic query"},
			"category": map[string]any{"type": "string"},
			"limit":    map[string]any{"type": "integer"},
		},
		"required": []string{"user_id"},
	}
}

func (t *RecallTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	query := StringArg(input, "query")
	facts, err := t.svc.Recall(ctx,
		StringArg(input, "user_id"),
		query,
		StringArg(input, "category"),
		IntArg(input, "limit", 10))
	if err != nil {
		return "", err
	}
	if len(facts) == 0 {
		return "No stored facts found.", nil
	}

	var sb strings.Builder
	if query != "" && facts[0].Relevance > 0 {
		for _, f := range facts {
			fmt.Fprintf(&sb, "- [%s] %s (%.0f%% relevant, id %s)\n", f.Category, f.Fact, f.Relevance, f.ID)
		}
		return sb.String(), nil
	}

	// Category listing: group for readability.
	byCategory := map[string][]*store.UserFact{}
	var order []string
	for _, f := range facts {
		if _, seen := byCategory[f.Category]; !seen {
			order = append(order, f.Category)
		}
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}
	for _, cat := range order {
		fmt.Fprintf(&sb, "%s:\n", cat)
		for _, f := range byCategory[cat] {
			fmt.Fprintf(&sb, "- %s (id %s)\n", f.Fact, f.ID)
		}
	}
	return sb.String(), nil
}

// ForgetTool deletes one stored fact by id.
type ForgetTool struct {
	svc *memory.Service
}

func NewForgetTool(svc *memory.Service) *ForgetTool {
	return &ForgetTool{svc: svc}
}

func (t *ForgetTool) Name() string { return "forget_fact" }

func (t *ForgetTool) Description() string {
	return "Delete a stored fact by its id (shown by recall_facts)."
}

func (t *ForgetTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_id": map[string]any{"type": "string"},
			"fact_id": map[string]any{"type": "string"},
		},
		"required": []string{"user_id", "fact_id"},
	}
}

func (t *ForgetTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	id := StringArg(input, "fact_id")
	if id == "" {
		return "", fmt.Errorf("fact_id is required")
	}
	if err := t.svc.Forget(ctx, StringArg(input, "user_id"), id); err != nil {
		return "", err
	}
	return "Forgotten.", nil
}
