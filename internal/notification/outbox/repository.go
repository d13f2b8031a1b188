// Package outbox persists tenant e-mails until the scheduler delivers them.
//
// A row moves pending -> enqueued (claimed by the dispatcher) -> processing
// (picked up by a worker) and ends as succeeded or failed. Retryable send
// failures put it back to pending with a later run_at.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront_backend/platform/apperr"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusEnqueued   Status = "enqueued"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a row will never be sent again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

const defaultClaimBatch = 50

var errNoPool = errors.New("outbox: repository has no pool")

type Record struct {
	ID       uuid.UUID
	AgentID  uuid.UUID
	Kind     string
	Template string
	Payload  json.RawMessage
	RunAt    time.Time
	Status   Status
	Attempts int
}

type InsertParams struct {
	AgentID  uuid.UUID
	Kind     string
	Template string
	Payload  any
	RunAt    time.Time
}

func (p InsertParams) validate() error {
	switch {
	case p.AgentID == uuid.Nil:
		return errors.New("outbox: agent id is required")
	case p.Kind == "" || p.Template == "":
		return errors.New("outbox: kind and template are required")
	}
	return nil
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) ready() error {
	if r == nil || r.pool == nil {
		return errNoPool
	}
	return nil
}

const returning = ` RETURNING id, agent_id, kind, template, payload, run_at, status, attempts`

func scan(row pgx.Row) (Record, error) {
	var (
		rec    Record
		status string
	)
	err := row.Scan(&rec.ID, &rec.AgentID, &rec.Kind, &rec.Template, &rec.Payload, &rec.RunAt, &status, &rec.Attempts)
	rec.Status = Status(status)
	return rec, err
}

// Insert stores a pending row and returns its id.
func (r *Repository) Insert(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	if err := r.ready(); err != nil {
		return uuid.Nil, err
	}
	if err := p.validate(); err != nil {
		return uuid.Nil, err
	}
	runAt := p.RunAt
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("outbox: encode payload: %w", err)
	}

	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, `
		INSERT INTO notification_outbox (agent_id, kind, template, payload, run_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		p.AgentID, p.Kind, p.Template, payload, runAt,
	).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("outbox: insert: %w", err)
	}
	return id, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Record, error) {
	if err := r.ready(); err != nil {
		return Record{}, err
	}
	rec, err := scan(r.pool.QueryRow(ctx, `
		SELECT id, agent_id, kind, template, payload, run_at, status, attempts
		FROM notification_outbox WHERE id = $1`, id))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Record{}, apperr.NotFound("outbox record not found")
	case err != nil:
		return Record{}, fmt.Errorf("outbox: get: %w", err)
	}
	return rec, nil
}

// ClaimPending flips up to limit due rows to enqueued and returns them,
// oldest first. Concurrent dispatchers skip each other's rows.
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]Record, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultClaimBatch
	}

	rows, err := r.pool.Query(ctx, `
		UPDATE notification_outbox
		SET status = 'enqueued', updated_at = now()
		WHERE id IN (
			SELECT id FROM notification_outbox
			WHERE status = 'pending' AND run_at <= now()
			ORDER BY run_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)`+returning, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	claimed, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) { return scan(row) })
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	return claimed, nil
}

// MarkPending releases a claimed row that could not be handed to a worker.
func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.transition(ctx, id, StatusPending, "last_error = NULLIF($3, '')", lastError)
}

// MarkProcessing counts an attempt.
func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, StatusProcessing, "attempts = attempts + 1")
}

func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, StatusSucceeded, "last_error = NULL")
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.transition(ctx, id, StatusFailed, "last_error = $3", lastError)
}

// ScheduleRetry puts the row back in the queue to run again at runAt.
func (r *Repository) ScheduleRetry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	return r.transition(ctx, id, StatusPending, "last_error = $3, run_at = $4", lastError, runAt)
}

// transition sets status ($2) plus extra assignments, whose arguments start at $3.
func (r *Repository) transition(ctx context.Context, id uuid.UUID, to Status, extra string, args ...any) error {
	if err := r.ready(); err != nil {
		return err
	}
	sql := `UPDATE notification_outbox SET status = $2, ` + extra + `, updated_at = now() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, sql, append([]any{id, string(to)}, args...)...); err != nil {
		return fmt.Errorf("outbox: mark %s: %w", to, err)
	}
	return nil
}
