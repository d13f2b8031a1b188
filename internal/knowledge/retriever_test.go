package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"storefront_backend/platform/qdrant"
)

type stubEmbedder struct {
	got string
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.got = text
	return []float32{0.1, 0.2}, s.err
}

type stubSearcher struct {
	opts    qdrant.SearchOptions
	results []qdrant.SearchResult
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, opts qdrant.SearchOptions) ([]qdrant.SearchResult, error) {
	s.opts = opts
	return s.results, nil
}

func TestSearchFiltersByAgentAndReadsPayload(t *testing.T) {
	agentID := uuid.New()
	emb := &stubEmbedder{}
	search := &stubSearcher{results: []qdrant.SearchResult{
		{Score: 0.9, Payload: map[string]interface{}{"content": "Livraison gratuite à Cocody"}},
		{Score: 0.8, Payload: map[string]interface{}{"text": "Ouvert le dimanche"}},
		{Score: 0.75, Payload: map[string]interface{}{"title": "sans texte"}},
	}}

	snippets, err := NewRetriever(emb, search).Search(context.Background(), agentID, "livraison\nCocody ?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snippets) != 2 || snippets[0] != "Livraison gratuite à Cocody" {
		t.Fatalf("unexpected snippets: %v", snippets)
	}
	if emb.got != "livraison Cocody ?" {
		t.Fatalf("newlines should be flattened, got %q", emb.got)
	}
	if len(search.opts.Must) != 1 || search.opts.Must[0].Value != agentID.String() {
		t.Fatalf("expected agent filter, got %+v", search.opts.Must)
	}
	if search.opts.Limit != 3 || search.opts.ScoreThreshold != 0.7 {
		t.Fatalf("unexpected options %+v", search.opts)
	}
}

func TestSearchOnNilRetrieverIsEmpty(t *testing.T) {
	var r *Retriever
	snippets, err := r.Search(context.Background(), uuid.New(), "bonjour")
	if err != nil || snippets != nil {
		t.Fatalf("expected nothing, got %v %v", snippets, err)
	}
}

func TestSearchWrapsEmbedError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewRetriever(&stubEmbedder{err: boom}, &stubSearcher{}).Search(context.Background(), uuid.New(), "x")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
