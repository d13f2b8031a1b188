package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront_backend/internal/delivery"
	"storefront_backend/platform/apperr"
)

const outboundNotFoundMessage = "pending outbound message not found"

// Repo persists the outbound message queue.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new outbound repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Enqueue stores a pending message. The insert trigger wakes the listener.
func (r *Repo) Enqueue(ctx context.Context, msg delivery.OutboundMessage) (uuid.UUID, error) {
	if msg.Kind == "" {
		msg.Kind = delivery.KindNotification
	}
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO outbound_messages (agent_id, recipient_phone, content, media_url, kind)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING id`,
		msg.AgentID, msg.RecipientPhone, msg.Content, msg.MediaURL, string(msg.Kind),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue outbound message: %w", err)
	}
	return id, nil
}

const outboundSelect = `
	SELECT id, agent_id, recipient_phone, content, COALESCE(media_url, ''), kind, status,
		COALESCE(error, ''), sent_at, created_at
	FROM outbound_messages
	WHERE status = 'pending'`

func scanOutbound(row pgx.Row) (delivery.OutboundMessage, error) {
	var m delivery.OutboundMessage
	var kind, status string
	err := row.Scan(&m.ID, &m.AgentID, &m.RecipientPhone, &m.Content, &m.MediaURL, &kind, &status,
		&m.Error, &m.SentAt, &m.CreatedAt)
	m.Kind = delivery.OutboundKind(kind)
	m.Status = delivery.OutboundStatus(status)
	return m, err
}

// GetPending returns message id if it still awaits delivery.
func (r *Repo) GetPending(ctx context.Context, id uuid.UUID) (delivery.OutboundMessage, error) {
	m, err := scanOutbound(r.pool.QueryRow(ctx, outboundSelect+` AND id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return delivery.OutboundMessage{}, apperr.NotFound(outboundNotFoundMessage)
	}
	if err != nil {
		return delivery.OutboundMessage{}, fmt.Errorf("get outbound message: %w", err)
	}
	return m, nil
}

// ListPending returns pending messages older than minAge, oldest first.
func (r *Repo) ListPending(ctx context.Context, minAge time.Duration, limit int) ([]delivery.OutboundMessage, error) {
	rows, err := r.pool.Query(ctx, outboundSelect+`
		AND created_at < now() - make_interval(secs => $1)
		ORDER BY created_at ASC
		LIMIT $2`, minAge.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("list outbound messages: %w", err)
	}
	defer rows.Close()

	var out []delivery.OutboundMessage
	for rows.Next() {
		m, err := scanOutbound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbound message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbound messages: %w", err)
	}
	return out, nil
}

// MarkSent records a delivered message.
func (r *Repo) MarkSent(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `UPDATE outbound_messages SET status = 'sent', error = NULL, sent_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark outbound sent: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure.
func (r *Repo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE outbound_messages SET status = 'failed', error = $2 WHERE id = $1`, id, reason); err != nil {
		return fmt.Errorf("mark outbound failed: %w", err)
	}
	return nil
}
