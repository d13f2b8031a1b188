package conversation

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"storefront_backend/internal/agents"
	"storefront_backend/internal/catalog"
	"storefront_backend/internal/events"
	"storefront_backend/internal/fulfillment"
	"storefront_backend/internal/orders"
	"storefront_backend/internal/whatsapp"
	"storefront_backend/platform/logger"
)

type memStore struct {
	mu       sync.Mutex
	conv     Conversation
	messages []Message
	ids      map[string]bool
}

func newMemStore(agentID uuid.UUID) *memStore {
	return &memStore{
		conv: Conversation{ID: uuid.New(), AgentID: agentID, Status: StatusActive},
		ids:  make(map[string]bool),
	}
}

func (s *memStore) GetOrCreate(_ context.Context, _ uuid.UUID, phone, name string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.ContactPhone = phone
	s.conv.ContactName = name
	return s.conv, nil
}

func (s *memStore) SaveInbound(_ context.Context, msg Message) (Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ProviderMessageID != "" && s.ids[msg.ProviderMessageID] {
		return Message{}, false, nil
	}
	s.ids[msg.ProviderMessageID] = true
	msg.ID = uuid.New()
	msg.Role = RoleUser
	msg.Status = MessageSent
	s.messages = append(s.messages, msg)
	return msg, true, nil
}

func (s *memStore) SetContent(_ context.Context, id uuid.UUID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content = content
		}
	}
	return nil
}

func (s *memStore) SaveAssistant(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = uuid.New()
	msg.Role = RoleAssistant
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *memStore) History(_ context.Context, _ uuid.UUID, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if len(s.messages) > limit {
		start = len(s.messages) - limit
	}
	return append([]Message(nil), s.messages[start:]...), nil
}

func (s *memStore) Escalate(context.Context, uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Status = StatusEscalated
	s.conv.BotPaused = true
	return nil
}

func (s *memStore) LoadDraft(context.Context, uuid.UUID) (fulfillment.Draft, error) {
	return fulfillment.Draft{CustomerName: "Awa Koné"}, nil
}

func (s *memStore) byRole(role Role) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type fakeAgents struct {
	mu       sync.Mutex
	agent    agents.Agent
	deducted []int
}

func (a *fakeAgents) Get(context.Context, uuid.UUID) (agents.Agent, error) {
	return a.agent, nil
}

func (a *fakeAgents) DeductCredits(_ context.Context, _ uuid.UUID, cost int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deducted = append(a.deducted, cost)
	a.agent.CreditsBalance -= cost
	return a.agent.CreditsBalance, nil
}

type fakeCatalog struct{ products []catalog.Product }

func (c fakeCatalog) ListAvailable(context.Context, uuid.UUID) ([]catalog.Product, error) {
	return c.products, nil
}

type noOrders struct{}

func (noOrders) ListRecentByPhone(context.Context, uuid.UUID, string, int) ([]orders.Order, error) {
	return nil, nil
}

type fakeTools struct {
	mu      sync.Mutex
	calls   []string
	turn    fulfillment.Turn
	outcome fulfillment.Outcome
}

func (t *fakeTools) Dispatch(_ context.Context, turn fulfillment.Turn, call *genai.FunctionCall) fulfillment.Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call.Name)
	t.turn = turn
	return t.outcome
}

type fakeSender struct {
	mu  sync.Mutex
	log []string
	err error
}

func (s *fakeSender) record(entry string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.log = append(s.log, entry)
	return "wamid-" + uuid.NewString()[:8], nil
}

func (s *fakeSender) SendText(_ context.Context, _ string, text string) (string, error) {
	return s.record("text:" + text)
}

func (s *fakeSender) SendImage(_ context.Context, _ string, url, _ string) (string, error) {
	return s.record("image:" + url)
}

func (s *fakeSender) SendAudio(_ context.Context, _ string, url string) (string, error) {
	return s.record("audio:" + url)
}

type fakeSenders struct {
	sender *fakeSender
	err    error
}

func (f fakeSenders) Sender(uuid.UUID) (whatsapp.Sender, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sender, nil
}

// scriptedLLM replays responses in order and repeats the last one.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*genai.Content
	requests  []*model.LLMRequest
}

func (m *scriptedLLM) Name() string { return "scripted" }

func (m *scriptedLLM) GenerateContent(_ context.Context, req *model.LLMRequest, _ bool) iter.Seq2[*model.LLMResponse, error] {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	content := m.responses[idx]
	m.mu.Unlock()
	return func(yield func(*model.LLMResponse, error) bool) {
		yield(&model.LLMResponse{Content: content}, nil)
	}
}

func (m *scriptedLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func modelText(text string) *genai.Content {
	return &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{genai.NewPartFromText(text)}}
}

func modelCall(id, name string, args map[string]any) *genai.Content {
	return &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{ID: id, Name: name, Args: args}}}}
}

type fixedClassifier struct{ s Sentiment }

func (c fixedClassifier) Classify(context.Context, string) (Sentiment, error) { return c.s, nil }

type fakeMedia struct{}

func (fakeMedia) Transcribe(context.Context, string) (string, error) {
	return "je veux une pizza", nil
}

func (fakeMedia) Describe(context.Context, string) (string, error) { return "une pizza", nil }

type fakeSpeech struct{}

func (fakeSpeech) Synthesize(context.Context, uuid.UUID, string) (string, error) {
	return "https://cdn.example.com/reply.ogg", nil
}

type recordingBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.published {
		if e.EventName() == name {
			return true
		}
	}
	return false
}

type pipelineConfig struct {
	rounds    int
	perMinute int
}

func (c pipelineConfig) GetHistoryTurns() int        { return 15 }
func (c pipelineConfig) GetMaxToolRounds() int       { return c.rounds }
func (c pipelineConfig) GetInboundPerMinute() int    { return c.perMinute }
func (c pipelineConfig) GetDedupeTTL() time.Duration { return time.Hour }

type harness struct {
	pipeline *Pipeline
	store    *memStore
	agents   *fakeAgents
	tools    *fakeTools
	sender   *fakeSender
	llm      *scriptedLLM
	bus      *recordingBus
	deps     Deps
	cfg      pipelineConfig
}

func newHarness(t *testing.T, responses ...*genai.Content) *harness {
	t.Helper()
	agentID := uuid.New()
	prompt, err := NewPromptBuilder()
	if err != nil {
		t.Fatalf("prompt builder: %v", err)
	}
	h := &harness{
		store: newMemStore(agentID),
		agents: &fakeAgents{agent: agents.Agent{
			ID: agentID, Name: "Chez Awa", CreditsBalance: 10, EscalationPhone: "+2250700000000",
		}},
		tools:  &fakeTools{outcome: fulfillment.Outcome{Response: map[string]any{"success": true}}},
		sender: &fakeSender{},
		llm:    &scriptedLLM{responses: responses},
		bus:    &recordingBus{},
		cfg:    pipelineConfig{rounds: 3, perMinute: 10},
	}
	h.deps = Deps{
		Store:      h.store,
		Agents:     h.agents,
		Catalog:    fakeCatalog{products: []catalog.Product{{ID: uuid.New(), Name: "Pizza Royale", Price: 5000, Type: catalog.ProductPhysical, Stock: catalog.UnlimitedStock}}},
		Orders:     noOrders{},
		Tools:      h.tools,
		Senders:    fakeSenders{sender: h.sender},
		LLM:        h.llm,
		Classifier: fixedClassifier{s: Sentiment{Label: SentimentNeutral}},
		Prompt:     prompt,
		Bus:        h.bus,
		Log:        logger.New("test"),
	}
	h.pipeline = NewPipeline(h.deps, h.cfg)
	return h
}

func (h *harness) rebuild() {
	h.pipeline = NewPipeline(h.deps, h.cfg)
}

func (h *harness) inbound(id, text string) InboundMessage {
	return InboundMessage{
		AgentID: h.agents.agent.ID,
		Inbound: whatsapp.Inbound{ProviderMessageID: id, From: "2250701020304", PushName: "Awa", Type: whatsapp.MessageText, Text: text},
	}
}

func TestToolResultsAreFedBackAndImagesGoFirst(t *testing.T) {
	h := newHarness(t,
		modelCall("call-1", fulfillment.ToolSendImage, map[string]any{"product_name": "pizza"}),
		modelText("Voici notre Pizza Royale à 5 000 FCFA."),
	)
	h.tools.outcome = fulfillment.Outcome{
		Response: map[string]any{"success": true},
		Image:    &fulfillment.ImageAttachment{URL: "https://cdn.example.com/pizza.jpg", Caption: "Voici Pizza Royale !"},
	}

	if err := h.pipeline.HandleInbound(context.Background(), h.inbound("m1", "je peux voir la pizza ?")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.llm.calls() != 2 {
		t.Fatalf("expected 2 model calls, got %d", h.llm.calls())
	}
	second := h.llm.requests[1]
	last := second.Contents[len(second.Contents)-1]
	if len(last.Parts) != 1 || last.Parts[0].FunctionResponse == nil {
		t.Fatalf("expected a tool result turn, got %+v", last)
	}
	if fr := last.Parts[0].FunctionResponse; fr.ID != "call-1" || fr.Name != fulfillment.ToolSendImage {
		t.Fatalf("tool result not matched to its call: %+v", fr)
	}
	if h.tools.turn.ContactPhone != "+2250701020304" {
		t.Fatalf("expected E.164 contact phone in turn, got %q", h.tools.turn.ContactPhone)
	}

	if len(h.sender.log) != 2 || !strings.HasPrefix(h.sender.log[0], "image:") || !strings.HasPrefix(h.sender.log[1], "text:") {
		t.Fatalf("expected image then text, got %v", h.sender.log)
	}
	replies := h.store.byRole(RoleAssistant)
	if len(replies) != 2 || replies[0].Status != MessageSent || replies[1].ProviderMessageID == "" {
		t.Fatalf("unexpected stored replies: %+v", replies)
	}
	if len(h.agents.deducted) != 1 || h.agents.deducted[0] != agents.TextReplyCost {
		t.Fatalf("expected one text charge, got %v", h.agents.deducted)
	}
	if h.bus.has("conversations.price_integrity_flagged") {
		t.Fatalf("catalog price must not be flagged")
	}
}

func TestAngryCustomerIsEscalatedWithoutModelCall(t *testing.T) {
	h := newHarness(t, modelText("unused"))
	h.deps.Classifier = fixedClassifier{s: Sentiment{Label: SentimentAngry}}
	h.rebuild()

	if err := h.pipeline.HandleInbound(context.Background(), h.inbound("m1", "c'est inadmissible !")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.llm.calls() != 0 {
		t.Fatalf("model must not be called on escalation")
	}
	if h.store.conv.Status != StatusEscalated {
		t.Fatalf("expected escalated conversation")
	}
	if len(h.sender.log) != 1 || !strings.Contains(h.sender.log[0], "+2250700000000") {
		t.Fatalf("hand-off must name the escalation phone, got %v", h.sender.log)
	}
	if !h.bus.has("conversations.escalated") {
		t.Fatalf("expected escalation event")
	}
	if len(h.agents.deducted) != 0 {
		t.Fatalf("hand-off is free, got %v", h.agents.deducted)
	}

	// The next message is dropped.
	if err := h.pipeline.HandleInbound(context.Background(), h.inbound("m2", "allo ?")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.store.byRole(RoleUser)) != 1 {
		t.Fatalf("escalated conversation must drop new messages")
	}
}

func TestUrgentNegativeEscalatesButPlainNegativeDoesNot(t *testing.T) {
	if (Sentiment{Label: SentimentNegative}).ShouldEscalate() {
		t.Fatalf("plain negative must not escalate")
	}
	if !(Sentiment{Label: SentimentNegative, Urgent: true}).ShouldEscalate() {
		t.Fatalf("urgent negative must escalate")
	}
}

func TestNoCreditsDropsSilently(t *testing.T) {
	h := newHarness(t, modelText("bonjour"))
	h.agents.agent.CreditsBalance = 0

	if err := h.pipeline.HandleInbound(context.Background(), h.inbound("m1", "bonjour")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.llm.calls() != 0 || len(h.sender.log) != 0 || len(h.store.messages) != 0 {
		t.Fatalf("expected nothing to happen without credits")
	}
}

func TestDuplicateDeliveryIsAnsweredOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := newHarness(t, modelText("Bonjour !"))
	h.deps.Dedupe = NewRedisDeduper(client, time.Hour)
	h.rebuild()

	msg := h.inbound("wamid-1", "bonjour")
	for i := 0; i < 2; i++ {
		if err := h.pipeline.HandleInbound(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if h.llm.calls() != 1 {
		t.Fatalf("expected one model call, got %d", h.llm.calls())
	}
}

func TestRateLimitedMessagesAreStoredButNotAnswered(t *testing.T) {
	h := newHarness(t, modelText("Bonjour !"))
	h.cfg.perMinute = 1
	h.rebuild()

	for _, id := range []string{"m1", "m2", "m3"} {
		if err := h.pipeline.HandleInbound(context.Background(), h.inbound(id, "bonjour "+id)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := len(h.store.byRole(RoleUser)); got != 3 {
		t.Fatalf("expected 3 stored messages, got %d", got)
	}
	if h.llm.calls() != 1 {
		t.Fatalf("expected one answered message, got %d", h.llm.calls())
	}
}

func TestReplyIsStoredPendingWhenOffline(t *testing.T) {
	h := newHarness(t, modelText("Bonjour !"))
	h.deps.Senders = fakeSenders{err: errors.New("not connected")}
	h.rebuild()

	if err := h.pipeline.HandleInbound(context.Background(), h.inbound("m1", "bonjour")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	replies := h.store.byRole(RoleAssistant)
	if len(replies) != 1 || replies[0].Status != MessagePending {
		t.Fatalf("expected one pending reply, got %+v", replies)
	}
}

func TestUnknownPriceIsFlaggedButSent(t *testing.T) {
	h := newHarness(t, modelText("La pizza est à 7 777 FCFA."))

	if err := h.pipeline.HandleInbound(context.Background(), h.inbound("m1", "combien ?")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.bus.has("conversations.price_integrity_flagged") {
		t.Fatalf("expected integrity event")
	}
	if len(h.sender.log) != 1 {
		t.Fatalf("flagged reply must still be sent, got %v", h.sender.log)
	}
}

func TestVoiceInboundGetsVoiceReply(t *testing.T) {
	h := newHarness(t, modelText("Très bien, une pizza."))
	h.agents.agent.VoiceEnabled = true
	h.deps.Media = fakeMedia{}
	h.deps.Speech = fakeSpeech{}
	h.rebuild()

	in := h.inbound("m1", "")
	in.Type = whatsapp.MessageVoice
	in.MediaURL = "https://bridge.example.com/media/voice.ogg"
	if err := h.pipeline.HandleInbound(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(h.sender.log) != 1 || h.sender.log[0] != "audio:https://cdn.example.com/reply.ogg" {
		t.Fatalf("expected a voice note, got %v", h.sender.log)
	}
	if len(h.agents.deducted) != 1 || h.agents.deducted[0] != agents.VoiceReplyCost {
		t.Fatalf("expected voice charge, got %v", h.agents.deducted)
	}
	if user := h.store.byRole(RoleUser); user[0].Content != "je veux une pizza" {
		t.Fatalf("expected transcript to replace the placeholder, got %q", user[0].Content)
	}
}

func TestVoiceNeedsEnoughCredits(t *testing.T) {
	h := newHarness(t, modelText("Très bien."))
	h.agents.agent.VoiceEnabled = true
	h.agents.agent.CreditsBalance = agents.VoiceReplyCost - 1
	h.deps.Speech = fakeSpeech{}
	h.rebuild()

	in := h.inbound("m1", "une pizza")
	in.Type = whatsapp.MessageVoice
	if err := h.pipeline.HandleInbound(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.sender.log) != 1 || !strings.HasPrefix(h.sender.log[0], "text:") {
		t.Fatalf("expected text fallback, got %v", h.sender.log)
	}
}

func TestToolRoundsAreBounded(t *testing.T) {
	h := newHarness(t, modelCall("c", fulfillment.ToolFindOrder, map[string]any{"phone_number": "0701020304"}))
	h.cfg.rounds = 2
	h.rebuild()

	if err := h.pipeline.HandleInbound(context.Background(), h.inbound("m1", "ma commande ?")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.llm.calls() != 3 {
		t.Fatalf("expected 3 model calls, got %d", h.llm.calls())
	}
	if final := h.llm.requests[2]; len(final.Config.Tools) != 0 {
		t.Fatalf("last round must not offer tools")
	}
	if len(h.tools.calls) != 2 {
		t.Fatalf("expected 2 dispatched calls, got %v", h.tools.calls)
	}
	if len(h.agents.deducted) != 0 {
		t.Fatalf("an empty reply is not charged")
	}
}
