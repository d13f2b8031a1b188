package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront_backend/internal/conversation"
	"storefront_backend/internal/fulfillment"
	"storefront_backend/internal/whatsapp"
	"storefront_backend/platform/apperr"
)

const (
	conversationNotFoundMessage = "conversation not found"
	messageNotFoundMessage      = "pending message not found"
)

// Repo persists conversations, their messages and order drafts.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new conversation repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const conversationColumns = `id, agent_id, contact_phone, contact_name, status, bot_paused, last_message_at`

func scanConversation(row pgx.Row) (conversation.Conversation, error) {
	var c conversation.Conversation
	var status string
	err := row.Scan(&c.ID, &c.AgentID, &c.ContactPhone, &c.ContactName, &status, &c.BotPaused, &c.LastMessageAt)
	c.Status = conversation.Status(status)
	return c, err
}

// GetOrCreate returns the thread of agentID with phone, creating it on first
// contact. A non-empty name refreshes the stored contact name.
func (r *Repo) GetOrCreate(ctx context.Context, agentID uuid.UUID, phone, name string) (conversation.Conversation, error) {
	c, err := scanConversation(r.pool.QueryRow(ctx, `
		INSERT INTO conversations (agent_id, contact_phone, contact_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (agent_id, contact_phone) DO UPDATE
		SET contact_name = COALESCE(NULLIF(EXCLUDED.contact_name, ''), conversations.contact_name),
			updated_at = now()
		RETURNING `+conversationColumns, agentID, phone, name))
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("get or create conversation: %w", err)
	}
	return c, nil
}

// SaveInbound stores a customer message. It reports false when the provider
// message id was already stored.
func (r *Repo) SaveInbound(ctx context.Context, msg conversation.Message) (conversation.Message, bool, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, content, message_type, status, provider_message_id, media_url)
		VALUES ($1, 'user', $2, $3, 'sent', NULLIF($4, ''), NULLIF($5, ''))
		ON CONFLICT (provider_message_id) DO NOTHING
		RETURNING id, created_at`,
		msg.ConversationID, msg.Content, string(msg.Type), msg.ProviderMessageID, msg.MediaURL,
	).Scan(&msg.ID, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.Message{}, false, nil
	}
	if err != nil {
		return conversation.Message{}, false, fmt.Errorf("insert inbound message: %w", err)
	}
	msg.Role = conversation.RoleUser
	msg.Status = conversation.MessageSent

	if err := r.touch(ctx, msg.ConversationID, msg.Content); err != nil {
		return conversation.Message{}, false, err
	}
	return msg, true, nil
}

// SetContent replaces a message body, e.g. once a voice note is transcribed.
func (r *Repo) SetContent(ctx context.Context, messageID uuid.UUID, content string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE messages SET content = $2, updated_at = now() WHERE id = $1`, messageID, content); err != nil {
		return fmt.Errorf("update message content: %w", err)
	}
	return nil
}

// SaveAssistant stores a reply. Pending replies are picked up by the
// delivery listener through the insert trigger.
func (r *Repo) SaveAssistant(ctx context.Context, msg conversation.Message) (conversation.Message, error) {
	if msg.Type == "" {
		msg.Type = whatsapp.MessageText
	}
	if msg.Status == "" {
		msg.Status = conversation.MessagePending
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, content, message_type, status, provider_message_id, media_url, error)
		VALUES ($1, 'assistant', $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))
		RETURNING id, created_at`,
		msg.ConversationID, msg.Content, string(msg.Type), string(msg.Status), msg.ProviderMessageID, msg.MediaURL, msg.Error,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("insert assistant message: %w", err)
	}
	msg.Role = conversation.RoleAssistant

	if msg.Status == conversation.MessageSent {
		if err := r.touch(ctx, msg.ConversationID, msg.Content); err != nil {
			return conversation.Message{}, err
		}
	}
	return msg, nil
}

func (r *Repo) touch(ctx context.Context, conversationID uuid.UUID, content string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations SET last_message = $2, last_message_at = now(), updated_at = now()
		WHERE id = $1`, conversationID, content)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	return nil
}

const messageColumns = `id, conversation_id, role, content, message_type, status,
	COALESCE(provider_message_id, ''), COALESCE(media_url, ''), COALESCE(error, ''), created_at`

func scanMessage(row pgx.Row, extra ...any) (conversation.Message, error) {
	var m conversation.Message
	var role, msgType, status string
	dest := append([]any{&m.ID, &m.ConversationID, &role, &m.Content, &msgType, &status,
		&m.ProviderMessageID, &m.MediaURL, &m.Error, &m.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return conversation.Message{}, err
	}
	m.Role = conversation.Role(role)
	m.Type = whatsapp.MessageType(msgType)
	m.Status = conversation.MessageStatus(status)
	return m, nil
}

// History returns the last limit messages in chronological order. Failed
// replies are left out since the customer never saw them.
func (r *Repo) History(ctx context.Context, conversationID uuid.UUID, limit int) ([]conversation.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1 AND status <> 'failed'
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []conversation.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// Escalate hands the thread to a human. Only a dashboard action reopens it.
func (r *Repo) Escalate(ctx context.Context, conversationID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE conversations SET status = 'escalated', bot_paused = true, updated_at = now()
		WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("escalate conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(conversationNotFoundMessage)
	}
	return nil
}

// LoadDraft returns the stored order draft, or an empty one.
func (r *Repo) LoadDraft(ctx context.Context, conversationID uuid.UUID) (fulfillment.Draft, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT order_draft FROM conversations WHERE id = $1`, conversationID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return fulfillment.Draft{}, apperr.NotFound(conversationNotFoundMessage)
	}
	if err != nil {
		return fulfillment.Draft{}, fmt.Errorf("load order draft: %w", err)
	}
	var draft fulfillment.Draft
	if len(raw) == 0 {
		return draft, nil
	}
	if err := json.Unmarshal(raw, &draft); err != nil {
		return fulfillment.Draft{}, fmt.Errorf("decode order draft: %w", err)
	}
	return draft, nil
}

// SaveDraft overwrites the order draft.
func (r *Repo) SaveDraft(ctx context.Context, conversationID uuid.UUID, draft fulfillment.Draft) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encode order draft: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `UPDATE conversations SET order_draft = $2, updated_at = now() WHERE id = $1`, conversationID, raw); err != nil {
		return fmt.Errorf("save order draft: %w", err)
	}
	return nil
}

// ClearDraft removes the order draft.
func (r *Repo) ClearDraft(ctx context.Context, conversationID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `UPDATE conversations SET order_draft = NULL, updated_at = now() WHERE id = $1`, conversationID); err != nil {
		return fmt.Errorf("clear order draft: %w", err)
	}
	return nil
}

const pendingSelect = `
	SELECT m.id, m.conversation_id, m.role, m.content, m.message_type, m.status,
		COALESCE(m.provider_message_id, ''), COALESCE(m.media_url, ''), COALESCE(m.error, ''), m.created_at,
		c.agent_id, c.contact_phone
	FROM messages m
	JOIN conversations c ON c.id = m.conversation_id
	WHERE m.role = 'assistant' AND m.status = 'pending'`

func scanPending(row pgx.Row) (conversation.PendingMessage, error) {
	var p conversation.PendingMessage
	m, err := scanMessage(row, &p.AgentID, &p.ContactPhone)
	if err != nil {
		return conversation.PendingMessage{}, err
	}
	p.Message = m
	return p, nil
}

// GetPending returns the assistant message id if it still awaits delivery.
func (r *Repo) GetPending(ctx context.Context, id uuid.UUID) (conversation.PendingMessage, error) {
	p, err := scanPending(r.pool.QueryRow(ctx, pendingSelect+` AND m.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.PendingMessage{}, apperr.NotFound(messageNotFoundMessage)
	}
	if err != nil {
		return conversation.PendingMessage{}, fmt.Errorf("get pending message: %w", err)
	}
	return p, nil
}

// ListPending returns pending assistant messages created more than minAge
// ago, oldest first.
func (r *Repo) ListPending(ctx context.Context, minAge time.Duration, limit int) ([]conversation.PendingMessage, error) {
	rows, err := r.pool.Query(ctx, pendingSelect+`
		AND m.created_at < now() - make_interval(secs => $1)
		ORDER BY m.created_at ASC
		LIMIT $2`, minAge.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending messages: %w", err)
	}
	defer rows.Close()

	var out []conversation.PendingMessage
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending message: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending messages: %w", err)
	}
	return out, nil
}

// MarkSent records a delivered message and makes it the thread's last message.
func (r *Repo) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error {
	_, err := r.pool.Exec(ctx, `
		WITH sent AS (
			UPDATE messages
			SET status = 'sent', provider_message_id = COALESCE(NULLIF($2, ''), provider_message_id),
				error = NULL, updated_at = now()
			WHERE id = $1
			RETURNING conversation_id, content
		)
		UPDATE conversations c
		SET last_message = sent.content, last_message_at = now(), updated_at = now()
		FROM sent WHERE c.id = sent.conversation_id`, id, providerMessageID)
	if err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure.
func (r *Repo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages SET status = 'failed', error = $2, updated_at = now()
		WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("mark message failed: %w", err)
	}
	return nil
}
