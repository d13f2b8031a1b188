// Package embeddings turns customer messages into query vectors for
// knowledge retrieval.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	defaultTimeout = 15 * time.Second
	// MaxInputRunes caps the text sent per query. Longer chat messages are
	// clipped; the opening of a message carries the question.
	MaxInputRunes = 2000
	maxErrorBody  = 512
)

// ErrEmptyInput is returned for blank query text.
var ErrEmptyInput = errors.New("embeddings: empty input")

// StatusError reports a non-200 answer from the embedding service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embeddings: service returned %d: %s", e.Code, e.Body)
}

// Config configures the embedding client. Model is optional and only sent
// to services that need it.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls an HTTP embedding endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates an embedding client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type embedRequest struct {
	Text  string `json:"text"`
	Input string `json:"input"`
	Model string `json:"model,omitempty"`
}

// Embed returns the vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = clip(strings.TrimSpace(text))
	if text == "" {
		return nil, ErrEmptyInput
	}

	payload, err := json.Marshal(embedRequest{Text: text, Input: text, Model: c.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("embeddings: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embeddings: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embeddings: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return decodeVector(body)
}

func clip(text string) string {
	if utf8.RuneCountInString(text) <= MaxInputRunes {
		return text
	}
	return string([]rune(text)[:MaxInputRunes])
}

// decodeVector accepts {"vector": [...]}, {"embedding": [...]},
// OpenAI-style {"data":[{"embedding":[...]}]} and bare arrays.
func decodeVector(body []byte) ([]float32, error) {
	var wrapped struct {
		Vector    []float32 `json:"vector"`
		Embedding []float32 `json:"embedding"`
		Data      []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		switch {
		case len(wrapped.Vector) > 0:
			return wrapped.Vector, nil
		case len(wrapped.Embedding) > 0:
			return wrapped.Embedding, nil
		case len(wrapped.Data) > 0 && len(wrapped.Data[0].Embedding) > 0:
			return wrapped.Data[0].Embedding, nil
		}
	}

	var bare []float32
	if err := json.Unmarshal(body, &bare); err == nil && len(bare) > 0 {
		return bare, nil
	}
	return nil, errors.New("embeddings: unrecognised response shape")
}
