package pg

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// FactStore implements store.FactStore over the user_facts table.
// Semantic recall uses the pgvector cosine-distance operator with an HNSW
// index; rows without embeddings fall back to category search.
type FactStore struct {
	pool *pgxpool.Pool
}

func NewFactStore(pool *pgxpool.Pool) *FactStore {
	return &FactStore{pool: pool}
}

func (s *FactStore) Insert(ctx context.Context, f *store.UserFact, embedding []float32) error {
	var emb any
	if len(embedding) > 0 {
		emb = EncodeVector(embedding)
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO user_facts (id, user_id, fact, category, confidence, source, embedding, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8, now())
		RETURNING created_at`,
		f.ID, f.UserID, f.Fact, f.Category, f.Confidence, f.Source, emb, f.ExpiresAt,
	).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

func (s *FactStore) SearchSemantic(ctx context.Context, userID string, query []float32, limit int) ([]*store.UserFact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, fact, category, confidence, source,
		       100 * (1 - (embedding <=> $2::vector)) AS relevance,
		       expires_at, created_at
		FROM user_facts
		WHERE user_id = $1
		  AND embedding IS NOT NULL
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY embedding <=> $2::vector
		LIMIT $3`,
		userID, EncodeVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("semantic fact search: %w", err)
	}
	defer rows.Close()

	var facts []*store.UserFact
	for rows.Next() {
		var f store.UserFact
		if err := rows.Scan(&f.ID, &f.UserID, &f.Fact, &f.Category, &f.Confidence,
			&f.Source, &f.Relevance, &f.ExpiresAt, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, &f)
	}
	return facts, rows.Err()
}

func (s *FactStore) SearchByCategory(ctx context.Context, userID, category string, limit int) ([]*store.UserFact, error) {
	q := `
		SELECT id, user_id, fact, category, confidence, source, 0, expires_at, created_at
		FROM user_facts
		WHERE user_id = $1
		  AND (expires_at IS NULL OR expires_at > now())`
	args := []any{userID}
	if category != "" {
		q += ` AND category = $2`
		args = append(args, category)
	}
	q += fmt.Sprintf(` ORDER BY confidence DESC, created_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("category fact search: %w", err)
	}
	defer rows.Close()

	var facts []*store.UserFact
	for rows.Next() {
		var f store.UserFact
		if err := rows.Scan(&f.ID, &f.UserID, &f.Fact, &f.Category, &f.Confidence,
			&f.Source, &f.Relevance, &f.ExpiresAt, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, &f)
	}
	return facts, rows.Err()
}

func (s *FactStore) Delete(ctx context.Context, userID, factID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM user_facts WHERE user_id = $1 AND id = $2`, userID, factID)
	if err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	return nil
}

// EncodeVector renders a float32 slice in pgvector text form: [x,y,z].
func EncodeVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
