package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Dimension is the embedding vector size expected by the user_facts schema.
const Dimension = 768

// Embedder computes embedding vectors via the external embedding service.
// A nil Embedder (or an empty URL) disables semantic recall.
type Embedder struct {
	url   string
	model string
	http  *http.Client
}

// NewEmbedder creates an embedding client. Returns nil when url is empty,
// which callers treat as "semantic recall disabled".
func NewEmbedder(url, model string) *Embedder {
	if url == "" {
		return nil
	}
	return &Embedder{
		url:   strings.TrimRight(url, "/"),
		model: model,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Embed returns the vector for text. The dimension is validated against
// the schema constant; a mismatch is an error the caller discards silently.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, _ := json.Marshal(map[string]any{
		"model": e.model,
		"input": text,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embeddings: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embeddings: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embeddings: decode: %w", err)
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("embeddings: empty response")
	}
	vec := out.Embeddings[0]
	if len(vec) != Dimension {
		return nil, fmt.Errorf("embeddings: dimension %d, want %d", len(vec), Dimension)
	}
	return vec, nil
}
