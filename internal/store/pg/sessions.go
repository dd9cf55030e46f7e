package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/linkhub/internal/store"
)

// PGSessionStore implements store.SessionStore backed by Postgres.
// The optimistic version check rides on `WHERE version = $n`; a poll tick that
// lost a race against cancel/expiry sees zero rows affected.
type PGSessionStore struct {
	db *sql.DB
}

func NewPGSessionStore(db *sql.DB) *PGSessionStore {
	return &PGSessionStore{db: db}
}

const sessionColumns = `id, tenant_id, channel, method, status, payload, phone_number,
	provider_ref, pending_external_id, pending_display_name, last_error,
	version, created_at, expires_at`

func (s *PGSessionStore) CreateSession(ctx context.Context, sess *store.LinkSession) error {
	sess.Version = 1
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO link_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		sess.ID, sess.TenantID, sess.Channel, sess.Method, sess.Status,
		sess.Payload, sess.PhoneNumber, sess.ProviderRef,
		sess.PendingExternalID, sess.PendingDisplayName, sess.LastError,
		sess.Version, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create link session: %w", err)
	}
	return nil
}

func (s *PGSessionStore) GetSession(ctx context.Context, id string) (*store.LinkSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM link_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *PGSessionStore) UpdateSession(ctx context.Context, sess *store.LinkSession) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE link_sessions SET
			status = $1, payload = $2, phone_number = $3, provider_ref = $4,
			pending_external_id = $5, pending_display_name = $6, last_error = $7,
			expires_at = $8, version = version + 1
		 WHERE id = $9 AND version = $10`,
		sess.Status, sess.Payload, sess.PhoneNumber, sess.ProviderRef,
		sess.PendingExternalID, sess.PendingDisplayName, sess.LastError,
		sess.ExpiresAt, sess.ID, sess.Version,
	)
	if err != nil {
		return fmt.Errorf("update link session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		// Distinguish a lost race from a deleted session.
		var exists bool
		s.db.QueryRowContext(ctx,
			"SELECT TRUE FROM link_sessions WHERE id = $1", sess.ID).Scan(&exists)
		if exists {
			return store.ErrVersionConflict
		}
		return store.ErrNotFound
	}
	sess.Version++
	return nil
}

func (s *PGSessionStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM link_sessions WHERE id = $1", id)
	return err
}

func (s *PGSessionStore) FindOpenSession(ctx context.Context, tenantID string, ch store.ChannelType, m store.AuthMethod) (*store.LinkSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM link_sessions
		 WHERE tenant_id = $1 AND channel = $2 AND method = $3
		   AND status NOT IN ('authorized', 'expired', 'cancelled', 'error')`,
		tenantID, ch, m)
	return scanSession(row)
}

func (s *PGSessionStore) ListOpenSessions(ctx context.Context) ([]store.LinkSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM link_sessions
		 WHERE status NOT IN ('authorized', 'expired', 'cancelled', 'error')
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	defer rows.Close()

	result := []store.LinkSession{}
	for rows.Next() {
		var sess store.LinkSession
		if err := rows.Scan(
			&sess.ID, &sess.TenantID, &sess.Channel, &sess.Method, &sess.Status,
			&sess.Payload, &sess.PhoneNumber, &sess.ProviderRef,
			&sess.PendingExternalID, &sess.PendingDisplayName, &sess.LastError,
			&sess.Version, &sess.CreatedAt, &sess.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan link session: %w", err)
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func scanSession(row *sql.Row) (*store.LinkSession, error) {
	var sess store.LinkSession
	err := row.Scan(
		&sess.ID, &sess.TenantID, &sess.Channel, &sess.Method, &sess.Status,
		&sess.Payload, &sess.PhoneNumber, &sess.ProviderRef,
		&sess.PendingExternalID, &sess.PendingDisplayName, &sess.LastError,
		&sess.Version, &sess.CreatedAt, &sess.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan link session: %w", err)
	}
	return &sess, nil
}
