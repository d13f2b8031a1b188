package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// Sentiment values returned by the classifier.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
	SentimentAngry    = "angry"
)

// Sentiment is the classification of one customer message.
type Sentiment struct {
	Label  string `json:"sentiment"`
	Urgent bool   `json:"is_urgent"`
}

// ShouldEscalate is true for angry customers and for urgent complaints.
func (s Sentiment) ShouldEscalate() bool {
	return s.Label == SentimentAngry || (s.Label == SentimentNegative && s.Urgent)
}

// Classifier labels the tone of a customer message.
type Classifier interface {
	Classify(ctx context.Context, text string) (Sentiment, error)
}

const sentimentInstruction = `Analyze the sentiment of the customer message. ` +
	`Return JSON: {"sentiment": "positive"|"neutral"|"negative"|"angry", "is_urgent": boolean}`

// LLMClassifier asks the chat model for a JSON verdict.
type LLMClassifier struct {
	llm model.LLM
}

// NewLLMClassifier creates a classifier on llm.
func NewLLMClassifier(llm model.LLM) *LLMClassifier {
	return &LLMClassifier{llm: llm}
}

// Classify returns neutral for empty text without calling the model.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (Sentiment, error) {
	if strings.TrimSpace(text) == "" {
		return Sentiment{Label: SentimentNeutral}, nil
	}
	var temperature float32
	resp, err := generate(ctx, c.llm, &model.LLMRequest{
		Contents: []*genai.Content{userText(text)},
		Config: &genai.GenerateContentConfig{
			SystemInstruction: userText(sentimentInstruction),
			ResponseMIMEType:  "application/json",
			Temperature:       &temperature,
		},
	})
	if err != nil {
		return Sentiment{Label: SentimentNeutral}, fmt.Errorf("classify sentiment: %w", err)
	}
	return parseSentiment(textOf(resp.Content))
}

func parseSentiment(raw string) (Sentiment, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var s Sentiment
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &s); err != nil {
		return Sentiment{Label: SentimentNeutral}, fmt.Errorf("decode sentiment: %w", err)
	}
	s.Label = strings.ToLower(strings.TrimSpace(s.Label))
	switch s.Label {
	case SentimentPositive, SentimentNegative, SentimentAngry:
	default:
		s.Label = SentimentNeutral
	}
	return s, nil
}

// generate runs a non-streaming request and returns the last response.
func generate(ctx context.Context, llm model.LLM, req *model.LLMRequest) (*model.LLMResponse, error) {
	var last *model.LLMResponse
	for resp, err := range llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return nil, err
		}
		last = resp
	}
	if last == nil || last.Content == nil {
		return nil, fmt.Errorf("model returned no content")
	}
	return last, nil
}

func userText(text string) *genai.Content {
	return &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{genai.NewPartFromText(text)}}
}

func textOf(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var parts []string
	for _, p := range content.Parts {
		if p != nil && p.FunctionCall == nil && strings.TrimSpace(p.Text) != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func functionCalls(content *genai.Content) []*genai.FunctionCall {
	if content == nil {
		return nil
	}
	var calls []*genai.FunctionCall
	for _, p := range content.Parts {
		if p != nil && p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}
