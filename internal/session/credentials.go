package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront_backend/internal/whatsapp"
	"storefront_backend/platform/secretbox"
)

// CredentialStore persists the records a connection needs to resume.
type CredentialStore interface {
	Load(ctx context.Context, agentID uuid.UUID) (whatsapp.Credentials, error)
	Save(ctx context.Context, agentID uuid.UUID, creds whatsapp.Credentials) error
	Delete(ctx context.Context, agentID uuid.UUID) error
}

// PGCredentialStore keeps sealed credential records in whatsapp_sessions.
type PGCredentialStore struct {
	pool   *pgxpool.Pool
	sealer *secretbox.Sealer
}

var _ CredentialStore = (*PGCredentialStore)(nil)

// NewCredentialStore creates a Postgres-backed credential store.
func NewCredentialStore(pool *pgxpool.Pool, sealer *secretbox.Sealer) *PGCredentialStore {
	return &PGCredentialStore{pool: pool, sealer: sealer}
}

func recordAAD(agentID uuid.UUID, keyID string) []byte {
	return []byte(agentID.String() + "/" + keyID)
}

// Load returns every record for agentID. A record that fails to open is an
// error; the caller decides whether to fall back to a fresh pairing.
func (s *PGCredentialStore) Load(ctx context.Context, agentID uuid.UUID) (whatsapp.Credentials, error) {
	rows, err := s.pool.Query(ctx, `SELECT key_id, data FROM whatsapp_sessions WHERE agent_id = $1`, agentID)
	if err != nil {
		return nil, fmt.Errorf("load session credentials: %w", err)
	}
	defer rows.Close()

	creds := whatsapp.Credentials{}
	for rows.Next() {
		var keyID string
		var sealed []byte
		if err := rows.Scan(&keyID, &sealed); err != nil {
			return nil, fmt.Errorf("scan session credential: %w", err)
		}
		plain, err := s.sealer.Open(sealed, recordAAD(agentID, keyID))
		if err != nil {
			return nil, fmt.Errorf("open session credential %s: %w", keyID, err)
		}
		creds[keyID] = plain
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session credentials: %w", err)
	}
	return creds, nil
}

// Save upserts every record in one batch.
func (s *PGCredentialStore) Save(ctx context.Context, agentID uuid.UUID, creds whatsapp.Credentials) error {
	if len(creds) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for keyID, data := range creds {
		sealed, err := s.sealer.Seal(data, recordAAD(agentID, keyID))
		if err != nil {
			return fmt.Errorf("seal session credential %s: %w", keyID, err)
		}
		batch.Queue(`
			INSERT INTO whatsapp_sessions (agent_id, key_id, data, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (agent_id, key_id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
			agentID, keyID, sealed)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save session credentials: %w", err)
	}
	return nil
}

// Delete removes every record of agentID.
func (s *PGCredentialStore) Delete(ctx context.Context, agentID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM whatsapp_sessions WHERE agent_id = $1`, agentID); err != nil {
		return fmt.Errorf("delete session credentials: %w", err)
	}
	return nil
}
