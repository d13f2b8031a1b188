package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront_backend/internal/agents"
	"storefront_backend/platform/apperr"
)

const agentNotFoundMessage = "agent not found"

// Repository reads and updates tenant agents.
type Repository interface {
	Get(ctx context.Context, agentID uuid.UUID) (agents.Agent, error)
	GetOwned(ctx context.Context, agentID, userID uuid.UUID) (agents.Agent, error)
	DeductCredits(ctx context.Context, agentID uuid.UUID, cost int) (int, error)
	ListConnected(ctx context.Context) ([]uuid.UUID, error)
	SetWhatsAppStatus(ctx context.Context, agentID uuid.UUID, status string) error
	SaveQR(ctx context.Context, agentID uuid.UUID, qrDataURL string) error
	MarkConnected(ctx context.Context, agentID uuid.UUID, phone string) error
	MarkDisconnected(ctx context.Context, agentID uuid.UUID) error
}

// Repo implements Repository on Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new agents repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Repository = (*Repo)(nil)

const agentColumns = `id, user_id, name, business_context, tone,
	COALESCE(escalation_phone, ''), COALESCE(notification_email, ''), payment_mode,
	COALESCE(orange_money_number, ''), COALESCE(mtn_money_number, ''), COALESCE(wave_number, ''),
	voice_enabled, credits_balance, messages_used, whatsapp_status,
	COALESCE(whatsapp_phone, ''), whatsapp_connected`

func scanAgent(row pgx.Row) (agents.Agent, error) {
	var a agents.Agent
	var mode string
	err := row.Scan(
		&a.ID, &a.UserID, &a.Name, &a.BusinessContext, &a.Tone,
		&a.EscalationPhone, &a.NotificationEmail, &mode,
		&a.OrangeMoneyNumber, &a.MTNMoneyNumber, &a.WaveNumber,
		&a.VoiceEnabled, &a.CreditsBalance, &a.MessagesUsed, &a.WhatsAppStatus,
		&a.WhatsAppPhone, &a.WhatsAppConnected,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return agents.Agent{}, apperr.NotFound(agentNotFoundMessage)
		}
		return agents.Agent{}, fmt.Errorf("scan agent: %w", err)
	}
	a.PaymentMode = agents.PaymentMode(mode)
	return a, nil
}

// Get returns an active agent.
func (r *Repo) Get(ctx context.Context, agentID uuid.UUID) (agents.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1 AND is_active`
	return scanAgent(r.pool.QueryRow(ctx, query, agentID))
}

// GetOwned returns the agent only if userID owns it.
func (r *Repo) GetOwned(ctx context.Context, agentID, userID uuid.UUID) (agents.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1 AND user_id = $2 AND is_active`
	return scanAgent(r.pool.QueryRow(ctx, query, agentID, userID))
}

// DeductCredits charges one reply and bumps the usage counter, returning the
// new balance. The balance is allowed to reach zero but never goes below it.
func (r *Repo) DeductCredits(ctx context.Context, agentID uuid.UUID, cost int) (int, error) {
	query := `
		UPDATE agents
		SET credits_balance = GREATEST(credits_balance - $2, 0),
			messages_used = messages_used + 1,
			updated_at = now()
		WHERE id = $1
		RETURNING credits_balance`

	var balance int
	if err := r.pool.QueryRow(ctx, query, agentID, cost).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.NotFound(agentNotFoundMessage)
		}
		return 0, fmt.Errorf("deduct credits: %w", err)
	}
	return balance, nil
}

// ListConnected returns agents whose session should be restored at start-up.
func (r *Repo) ListConnected(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM agents WHERE whatsapp_connected AND is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list connected agents: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("collect connected agents: %w", err)
	}
	return ids, nil
}

// SetWhatsAppStatus records the session state shown to the tenant.
func (r *Repo) SetWhatsAppStatus(ctx context.Context, agentID uuid.UUID, status string) error {
	return r.exec(ctx, "set whatsapp status",
		`UPDATE agents SET whatsapp_status = $2, updated_at = now() WHERE id = $1`, agentID, status)
}

// SaveQR stores the scannable pairing code.
func (r *Repo) SaveQR(ctx context.Context, agentID uuid.UUID, qrDataURL string) error {
	return r.exec(ctx, "save qr",
		`UPDATE agents SET whatsapp_qr = $2, whatsapp_status = 'qr_waiting', updated_at = now() WHERE id = $1`,
		agentID, qrDataURL)
}

// MarkConnected stores the bound phone identity and clears the QR artifact.
func (r *Repo) MarkConnected(ctx context.Context, agentID uuid.UUID, phone string) error {
	return r.exec(ctx, "mark connected",
		`UPDATE agents
		SET whatsapp_phone = $2, whatsapp_qr = NULL, whatsapp_status = 'connected',
			whatsapp_connected = TRUE, updated_at = now()
		WHERE id = $1`, agentID, phone)
}

// MarkDisconnected records a terminal logout.
func (r *Repo) MarkDisconnected(ctx context.Context, agentID uuid.UUID) error {
	return r.exec(ctx, "mark disconnected",
		`UPDATE agents
		SET whatsapp_qr = NULL, whatsapp_status = 'logged_out',
			whatsapp_connected = FALSE, updated_at = now()
		WHERE id = $1`, agentID)
}

func (r *Repo) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(agentNotFoundMessage)
	}
	return nil
}
