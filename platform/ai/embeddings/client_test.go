package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDecodeVectorAcceptsKnownShapes(t *testing.T) {
	cases := map[string]string{
		"wrapped":   `{"vector":[0.1,0.2]}`,
		"embedding": `{"embedding":[0.1,0.2]}`,
		"openai":    `{"data":[{"embedding":[0.1,0.2]}]}`,
		"raw":       `[0.1,0.2]`,
	}
	for name, body := range cases {
		vec, err := decodeVector([]byte(body))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if len(vec) != 2 {
			t.Fatalf("%s: expected 2 dims, got %d", name, len(vec))
		}
	}

	if _, err := decodeVector([]byte(`{"unexpected":true}`)); err == nil {
		t.Fatalf("expected error for unknown shape")
	}
}

func TestEmbedClipsLongMessagesAndSendsModel(t *testing.T) {
	var got embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"vector":[1,2,3]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "bge-m3"})
	vec, err := c.Embed(context.Background(), "  "+strings.Repeat("é", MaxInputRunes+50)+"  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(vec))
	}
	if n := utf8.RuneCountInString(got.Input); n != MaxInputRunes {
		t.Fatalf("expected input clipped to %d runes, got %d", MaxInputRunes, n)
	}
	if got.Model != "bge-m3" {
		t.Fatalf("expected model in request, got %q", got.Model)
	}
}

func TestEmbedRejectsBlankAndReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL})

	if _, err := c.Embed(context.Background(), "   "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	_, err := c.Embed(context.Background(), "livraison à Cocody ?")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 status error, got %v", err)
	}
}
