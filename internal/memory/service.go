package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// Service is the fact store with optional semantic recall.
type Service struct {
	users    store.UserStore
	facts    store.FactStore
	embedder *Embedder // nil = category search only
}

func NewService(users store.UserStore, facts store.FactStore, embedder *Embedder) *Service {
	return &Service{users: users, facts: facts, embedder: embedder}
}

// Remember stores a durable fact. The user row is upserted first so facts
// can arrive before onboarding completes. Embedding failures degrade
// silently to a fact without a vector.
func (s *Service) Remember(ctx context.Context, userID, fact, category string, confidence float64, source string) error {
	if fact == "" {
		return fmt.Errorf("fact must not be empty")
	}
	if !validCategory(category) {
		category = store.FactOther
	}
	if confidence <= 0 || confidence > 1 {
		confidence = 0.8
	}

	if err := s.users.Upsert(ctx, &store.User{ID: userID, NotifyPrefs: store.DefaultNotifyPrefs()}); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}

	var embedding []float32
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, fact)
		if err != nil {
			slog.Warn("memory: embedding failed, storing without vector", "user", userID, "error", err)
		} else {
			embedding = vec
		}
	}

	f := &store.UserFact{
		ID:         uuid.Must(uuid.NewV7()).String(),
		UserID:     userID,
		Fact:       fact,
		Category:   category,
		Confidence: confidence,
		Source:     source,
	}
	return s.facts.Insert(ctx, f, embedding)
}

// Recall returns facts for the user. With a query and a working embedder,
// results are ranked by cosine similarity (Relevance populated); otherwise
// recall falls back to category search ordered by confidence then recency.
func (s *Service) Recall(ctx context.Context, userID, query, category string, limit int) ([]*store.UserFact, error) {
	if limit <= 0 {
		limit = 10
	}

	if query != "" && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			slog.Warn("memory: query embedding failed, falling back to category search", "error", err)
		} else {
			facts, err := s.facts.SearchSemantic(ctx, userID, vec, limit)
			if err == nil {
				return facts, nil
			}
			// An absent vector column degrades to category search.
			slog.Warn("memory: semantic search failed, falling back", "error", err)
		}
	}

	return s.facts.SearchByCategory(ctx, userID, category, limit)
}

// Forget deletes one fact owned by the user.
func (s *Service) Forget(ctx context.Context, userID, factID string) error {
	return s.facts.Delete(ctx, userID, factID)
}

func validCategory(c string) bool {
	switch c {
	case store.FactPreference, store.FactSchedule, store.FactRelationship,
		store.FactWork, store.FactHealth, store.FactOther:
		return true
	}
	return false
}
