package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

func TestGenerateContentSendsSystemAndToolsAndParsesCalls(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"find_order","arguments":"{\"phone_number\":\"0700000000\"}"}}]}}]}`))
	}))
	defer srv.Close()

	m := NewModel(Config{BaseURL: srv.URL, APIKey: "k", Model: "test-model"})
	req := &model.LLMRequest{
		Contents: []*genai.Content{genai.NewContentFromText("bonjour", genai.RoleUser)},
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText("Tu es un vendeur.", genai.RoleUser),
			Tools: []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:                 "find_order",
				Description:          "find orders",
				ParametersJsonSchema: map[string]any{"type": "object"},
			}}}},
		},
	}

	var got *model.LLMResponse
	for resp, err := range m.GenerateContent(context.Background(), req, false) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = resp
	}

	messages, _ := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(messages))
	}
	first, _ := messages[0].(map[string]any)
	if first["role"] != "system" {
		t.Fatalf("expected first message to be system, got %v", first["role"])
	}
	if tools, _ := captured["tools"].([]any); len(tools) != 1 {
		t.Fatalf("expected 1 tool definition, got %d", len(tools))
	}

	if got == nil || got.Content == nil || len(got.Content.Parts) != 1 {
		t.Fatalf("expected one part in response")
	}
	call := got.Content.Parts[0].FunctionCall
	if call == nil || call.Name != "find_order" || call.ID != "call_1" {
		t.Fatalf("expected find_order call, got %+v", call)
	}
	if call.Args["phone_number"] != "0700000000" {
		t.Fatalf("expected parsed args, got %v", call.Args)
	}
}

func TestToolResponsesBecomeToolMessages(t *testing.T) {
	contents := []*genai.Content{
		{Role: genai.RoleModel, Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{ID: "c1", Name: "send_image", Args: map[string]any{"product_name": "Pizza"}}}}},
		{Role: genai.RoleUser, Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{ID: "c1", Name: "send_image", Response: map[string]any{"success": true}}}}},
	}

	msgs := convertMessages(contents)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "assistant" || len(msgs[0].ToolCalls) != 1 {
		t.Fatalf("expected assistant tool call message, got %+v", msgs[0])
	}
	if msgs[1].Role != "tool" || msgs[1].ToolCallID != "c1" {
		t.Fatalf("expected tool message for c1, got %+v", msgs[1])
	}
}

func TestGenerateContentReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewModel(Config{BaseURL: srv.URL})
	for _, err := range m.GenerateContent(context.Background(), &model.LLMRequest{}, false) {
		if err == nil {
			t.Fatalf("expected error for 503 response")
		}
	}
}
