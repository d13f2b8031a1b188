package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"storefront_backend/internal/agents"
	"storefront_backend/internal/catalog"
	"storefront_backend/internal/events"
	"storefront_backend/internal/fulfillment"
	"storefront_backend/internal/orders"
	"storefront_backend/internal/whatsapp"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
	"storefront_backend/platform/phone"
	"storefront_backend/platform/ratelimit"
)

const (
	handoffMessage = "Je comprends votre frustration et je m'en excuse sincèrement.\n\n" +
		"Je transfère immédiatement votre dossier à un conseiller humain qui va vous contacter très rapidement."
	fallbackReply = "Désolé, je rencontre un problème technique. Veuillez réessayer dans un instant."
)

// Store is the conversation persistence the pipeline needs.
type Store interface {
	GetOrCreate(ctx context.Context, agentID uuid.UUID, phone, name string) (Conversation, error)
	SaveInbound(ctx context.Context, msg Message) (Message, bool, error)
	SetContent(ctx context.Context, messageID uuid.UUID, content string) error
	SaveAssistant(ctx context.Context, msg Message) (Message, error)
	History(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error)
	Escalate(ctx context.Context, conversationID uuid.UUID) error
	LoadDraft(ctx context.Context, conversationID uuid.UUID) (fulfillment.Draft, error)
}

// Agents reads tenants and charges them for replies.
type Agents interface {
	Get(ctx context.Context, id uuid.UUID) (agents.Agent, error)
	DeductCredits(ctx context.Context, agentID uuid.UUID, cost int) (int, error)
}

// RecentOrders lists a contact's latest orders.
type RecentOrders interface {
	ListRecentByPhone(ctx context.Context, agentID uuid.UUID, phone string, limit int) ([]orders.Order, error)
}

// Knowledge returns knowledge-base snippets relevant to a message.
type Knowledge interface {
	Search(ctx context.Context, agentID uuid.UUID, query string) ([]string, error)
}

// Senders locates the live connection of an agent.
type Senders interface {
	Sender(agentID uuid.UUID) (whatsapp.Sender, error)
}

// ToolDispatcher executes model tool calls.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, turn fulfillment.Turn, call *genai.FunctionCall) fulfillment.Outcome
}

// MediaReader turns customer media into text.
type MediaReader interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
	Describe(ctx context.Context, imageURL string) (string, error)
}

// Synthesizer renders a reply as a voice note and returns its URL.
type Synthesizer interface {
	Synthesize(ctx context.Context, agentID uuid.UUID, text string) (string, error)
}

// Deps groups the pipeline's collaborators. Knowledge, Media, Speech and
// Dedupe are optional.
type Deps struct {
	Store      Store
	Agents     Agents
	Catalog    fulfillment.Catalog
	Orders     RecentOrders
	Tools      ToolDispatcher
	Senders    Senders
	LLM        model.LLM
	Classifier Classifier
	Prompt     *PromptBuilder
	Knowledge  Knowledge
	Media      MediaReader
	Speech     Synthesizer
	Dedupe     Deduper
	Bus        events.Bus
	Log        *logger.Logger
}

// Pipeline answers inbound customer messages.
type Pipeline struct {
	Deps
	historyTurns int
	maxRounds    int
	limiter      *ratelimit.Keyed
	locks        *keyedMutex
	log          *logger.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(deps Deps, cfg config.PipelineConfig) *Pipeline {
	turns := cfg.GetHistoryTurns()
	if turns <= 0 {
		turns = 15
	}
	rounds := cfg.GetMaxToolRounds()
	if rounds <= 0 {
		rounds = 3
	}
	perMinute := cfg.GetInboundPerMinute()
	if perMinute <= 0 {
		perMinute = 10
	}
	return &Pipeline{
		Deps:         deps,
		historyTurns: turns,
		maxRounds:    rounds,
		limiter:      ratelimit.PerMinute(perMinute),
		locks:        newKeyedMutex(),
		log:          deps.Log.WithComponent("conversation"),
	}
}

// reply is what a turn produced for the customer.
type reply struct {
	text   string
	images []fulfillment.ImageAttachment
}

// HandleInbound runs one customer message through the pipeline. Dropped
// messages are not errors.
func (p *Pipeline) HandleInbound(ctx context.Context, in InboundMessage) error {
	log := p.log.WithAgent(in.AgentID.String())

	if p.Dedupe != nil && in.ProviderMessageID != "" {
		first, err := p.Dedupe.FirstSeen(ctx, in.AgentID.String()+":"+in.ProviderMessageID)
		if err != nil {
			log.Warn("inbound dedupe unavailable", "error", err)
		} else if !first {
			log.Debug("duplicate inbound message", "messageId", in.ProviderMessageID)
			return nil
		}
	}

	agent, err := p.Agents.Get(ctx, in.AgentID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			log.Warn("inbound message for unknown agent")
			return nil
		}
		return fmt.Errorf("load agent: %w", err)
	}
	if !agent.HasCredits() {
		log.Info("inbound message dropped: no credits left")
		return nil
	}

	conv, err := p.Store.GetOrCreate(ctx, agent.ID, in.From, in.PushName)
	if err != nil {
		return err
	}
	if !conv.Answerable() {
		log.Debug("conversation is paused or escalated", "conversationId", conv.ID)
		return nil
	}

	unlock := p.locks.Lock(conv.ID.String())
	defer unlock()

	content := in.Text
	if content == "" {
		content = placeholder(in.Type)
	}
	stored, inserted, err := p.Store.SaveInbound(ctx, Message{
		ConversationID:    conv.ID,
		Content:           content,
		Type:              in.Type,
		ProviderMessageID: in.ProviderMessageID,
		MediaURL:          in.MediaURL,
	})
	if err != nil {
		return err
	}
	if !inserted {
		log.Debug("inbound message already stored", "messageId", in.ProviderMessageID)
		return nil
	}

	if !p.limiter.Allow(agent.ID.String() + ":" + in.From) {
		log.RateLimitExceeded(in.From, "whatsapp_inbound")
		return nil
	}

	text := p.readMedia(ctx, log, in)
	if text != "" && text != content {
		if err := p.Store.SetContent(ctx, stored.ID, text); err != nil {
			log.DatabaseError("set_message_content", err)
		}
	}

	if escalated := p.checkSentiment(ctx, log, agent, conv, text); escalated {
		return nil
	}

	out, err := p.generate(ctx, log, agent, conv, text)
	if err != nil {
		log.Error("reply generation failed", "conversationId", conv.ID, "error", err)
		p.deliver(ctx, log, agent, conv, reply{text: fallbackReply}, false)
		return nil
	}

	voice := p.deliver(ctx, log, agent, conv, out, in.Type == whatsapp.MessageVoice)
	if out.text == "" {
		return nil
	}

	cost := agents.TextReplyCost
	if voice {
		cost = agents.VoiceReplyCost
	}
	if _, err := p.Agents.DeductCredits(ctx, agent.ID, cost); err != nil {
		log.Error("credit deduction failed", "cost", cost, "error", err)
	}
	return nil
}

// readMedia returns the text the model should answer. Voice notes are
// transcribed; images get a description appended to their caption.
func (p *Pipeline) readMedia(ctx context.Context, log *logger.Logger, in InboundMessage) string {
	text := in.Text
	if p.Media == nil || in.MediaURL == "" {
		return text
	}
	switch in.Type {
	case whatsapp.MessageVoice:
		transcript, err := p.Media.Transcribe(ctx, in.MediaURL)
		if err != nil {
			log.Warn("voice transcription failed", "error", err)
			return text
		}
		return strings.TrimSpace(transcript)
	case whatsapp.MessageImage:
		desc, err := p.Media.Describe(ctx, in.MediaURL)
		if err != nil {
			log.Warn("image description failed", "error", err)
			return text
		}
		if text == "" {
			return "[Image: " + strings.TrimSpace(desc) + "]"
		}
		return text + "\n[Image: " + strings.TrimSpace(desc) + "]"
	}
	return text
}

// checkSentiment escalates the conversation when the customer is angry and
// reports whether it did.
func (p *Pipeline) checkSentiment(ctx context.Context, log *logger.Logger, agent agents.Agent, conv Conversation, text string) bool {
	if p.Classifier == nil {
		return false
	}
	s, err := p.Classifier.Classify(ctx, text)
	if err != nil {
		log.Warn("sentiment analysis failed", "error", err)
		return false
	}
	if !s.ShouldEscalate() {
		return false
	}

	log.Info("escalating conversation", "conversationId", conv.ID, "sentiment", s.Label, "urgent", s.Urgent)
	if err := p.Store.Escalate(ctx, conv.ID); err != nil {
		log.DatabaseError("escalate_conversation", err)
	}

	msg := handoffMessage
	if agent.EscalationPhone != "" {
		msg += "\n\nVous pouvez aussi appeler directement : " + agent.EscalationPhone
	}
	p.deliver(ctx, log, agent, conv, reply{text: msg}, false)

	p.Bus.Publish(ctx, events.ConversationEscalated{
		BaseEvent:      events.NewBaseEvent(),
		AgentID:        agent.ID,
		ConversationID: conv.ID,
		ContactPhone:   conv.ContactPhone,
		Sentiment:      s.Label,
		LastMessage:    text,
	})
	return true
}

// generate assembles context and runs the tool loop.
func (p *Pipeline) generate(ctx context.Context, log *logger.Logger, agent agents.Agent, conv Conversation, text string) (reply, error) {
	customerPhone := phone.NormalizeE164("+" + conv.ContactPhone)

	history, err := p.Store.History(ctx, conv.ID, p.historyTurns)
	if err != nil {
		return reply{}, err
	}
	products, err := p.Catalog.ListAvailable(ctx, agent.ID)
	if err != nil {
		return reply{}, fmt.Errorf("list catalog: %w", err)
	}
	recent, err := p.Orders.ListRecentByPhone(ctx, agent.ID, customerPhone, 3)
	if err != nil {
		log.DatabaseError("list_recent_orders", err)
	}
	var snippets []string
	if p.Knowledge != nil {
		if snippets, err = p.Knowledge.Search(ctx, agent.ID, text); err != nil {
			log.Warn("knowledge search failed", "error", err)
		}
	}
	draft, err := p.Store.LoadDraft(ctx, conv.ID)
	if err != nil {
		log.DatabaseError("load_order_draft", err)
	}

	system := p.Prompt.Build(PromptInput{
		Agent:        agent,
		Products:     products,
		Orders:       recent,
		Snippets:     snippets,
		Draft:        draft,
		FirstContact: len(history) <= 1,
	})

	contents := historyContents(history)
	if len(contents) == 0 {
		contents = append(contents, userText(text))
	}
	turn := fulfillment.Turn{Agent: agent, ConversationID: conv.ID, ContactPhone: customerPhone}
	tools := []*genai.Tool{{FunctionDeclarations: fulfillment.Declarations()}}

	var out reply
	for round := 0; ; round++ {
		cfg := &genai.GenerateContentConfig{SystemInstruction: userText(system)}
		// The last round gets no tools so the model has to answer.
		if round < p.maxRounds {
			cfg.Tools = tools
		}
		resp, err := generate(ctx, p.LLM, &model.LLMRequest{Contents: contents, Config: cfg})
		if err != nil {
			return reply{}, err
		}

		calls := functionCalls(resp.Content)
		if len(calls) == 0 || round >= p.maxRounds {
			out.text = textOf(resp.Content)
			break
		}

		contents = append(contents, resp.Content)
		results := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			outcome := p.Tools.Dispatch(ctx, turn, call)
			if outcome.Image != nil {
				out.images = append(out.images, *outcome.Image)
			}
			results = append(results, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: outcome.Response,
			}})
		}
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: results})
	}

	if report := catalog.CheckPrices(out.text, products); !report.OK() {
		amounts := make([]int64, 0, len(report.Findings))
		for _, f := range report.Findings {
			amounts = append(amounts, f.Amount)
		}
		log.Warn("price_hallucination", "conversationId", conv.ID, "amounts", amounts, "checked", report.Checked)
		p.Bus.Publish(ctx, events.PriceIntegrityFlagged{
			BaseEvent:      events.NewBaseEvent(),
			AgentID:        agent.ID,
			ConversationID: conv.ID,
			Amounts:        amounts,
		})
	}
	return out, nil
}

func historyContents(history []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{genai.NewPartFromText(m.Content)}})
	}
	return contents
}

// deliver sends images then the reply, and stores what was sent. Without a
// live connection everything is stored pending for the delivery listener.
// It reports whether the reply went out as a voice note.
func (p *Pipeline) deliver(ctx context.Context, log *logger.Logger, agent agents.Agent, conv Conversation, out reply, inboundVoice bool) bool {
	sender, err := p.Senders.Sender(agent.ID)
	if err != nil {
		sender = nil
	}

	for _, img := range out.images {
		msg := Message{ConversationID: conv.ID, Content: img.Caption, Type: whatsapp.MessageImage, MediaURL: img.URL}
		p.sendAndStore(ctx, log, sender, conv, msg, func(s whatsapp.Sender) (string, error) {
			return s.SendImage(ctx, conv.ContactPhone, img.URL, img.Caption)
		})
	}

	if out.text == "" {
		return false
	}

	if sender != nil && p.wantsVoice(agent, inboundVoice) {
		audioURL, err := p.Speech.Synthesize(ctx, agent.ID, out.text)
		if err != nil {
			log.Warn("voice synthesis failed, falling back to text", "error", err)
		} else {
			id, err := sender.SendAudio(ctx, conv.ContactPhone, audioURL)
			if err == nil {
				p.store(ctx, log, Message{
					ConversationID: conv.ID, Content: out.text, Type: whatsapp.MessageVoice,
					MediaURL: audioURL, Status: MessageSent, ProviderMessageID: id,
				})
				return true
			}
			log.Warn("voice send failed, falling back to text", "error", err)
		}
	}

	msg := Message{ConversationID: conv.ID, Content: out.text, Type: whatsapp.MessageText}
	p.sendAndStore(ctx, log, sender, conv, msg, func(s whatsapp.Sender) (string, error) {
		return s.SendText(ctx, conv.ContactPhone, out.text)
	})
	return false
}

func (p *Pipeline) wantsVoice(agent agents.Agent, inboundVoice bool) bool {
	return p.Speech != nil && inboundVoice && agent.VoiceEnabled && agent.CreditsBalance >= agents.VoiceReplyCost
}

func (p *Pipeline) sendAndStore(ctx context.Context, log *logger.Logger, sender whatsapp.Sender, conv Conversation, msg Message, send func(whatsapp.Sender) (string, error)) {
	msg.Status = MessagePending
	if sender != nil {
		id, err := send(sender)
		switch {
		case err == nil:
			msg.Status = MessageSent
			msg.ProviderMessageID = id
		case errors.Is(err, whatsapp.ErrLoggedOut):
			log.Warn("send failed: device logged out", "conversationId", conv.ID)
		default:
			log.Warn("send failed", "conversationId", conv.ID, "error", err)
			msg.Status = MessageFailed
			msg.Error = err.Error()
		}
	}
	p.store(ctx, log, msg)
}

func (p *Pipeline) store(ctx context.Context, log *logger.Logger, msg Message) {
	if _, err := p.Store.SaveAssistant(ctx, msg); err != nil {
		log.DatabaseError("save_assistant_message", err)
	}
}
