// Package knowledge retrieves tenant knowledge-base snippets for prompt
// context. Documents are embedded elsewhere and stored in Qdrant with an
// agent_id payload field.
package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"storefront_backend/platform/qdrant"
)

const (
	defaultLimit     = 3
	defaultThreshold = 0.7
)

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs a filtered similarity search.
type Searcher interface {
	Search(ctx context.Context, vector []float32, opts qdrant.SearchOptions) ([]qdrant.SearchResult, error)
}

// Retriever finds the snippets most similar to a customer message.
type Retriever struct {
	embedder  Embedder
	searcher  Searcher
	limit     int
	threshold float64
}

// NewRetriever creates a retriever returning at most three snippets above a
// 0.7 similarity score.
func NewRetriever(embedder Embedder, searcher Searcher) *Retriever {
	return &Retriever{
		embedder:  embedder,
		searcher:  searcher,
		limit:     defaultLimit,
		threshold: defaultThreshold,
	}
}

// Search returns snippet texts for agentID. A nil retriever returns nothing,
// so callers can leave retrieval unconfigured.
func (r *Retriever) Search(ctx context.Context, agentID uuid.UUID, query string) ([]string, error) {
	if r == nil {
		return nil, nil
	}
	query = strings.TrimSpace(strings.ReplaceAll(query, "\n", " "))
	if query == "" {
		return nil, nil
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := r.searcher.Search(ctx, vector, qdrant.SearchOptions{
		Limit:          r.limit,
		ScoreThreshold: r.threshold,
		Must:           []qdrant.MatchFilter{{Key: "agent_id", Value: agentID.String()}},
	})
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}

	snippets := make([]string, 0, len(results))
	for _, res := range results {
		if text := payloadText(res.Payload); text != "" {
			snippets = append(snippets, text)
		}
	}
	return snippets, nil
}

func payloadText(payload map[string]interface{}) string {
	for _, key := range []string{"content", "text"} {
		if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
