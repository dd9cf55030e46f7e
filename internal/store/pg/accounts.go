package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/linkhub/internal/store"
)

// PGAccountStore implements store.AccountStore backed by Postgres.
type PGAccountStore struct {
	db *sql.DB
}

func NewPGAccountStore(db *sql.DB) *PGAccountStore {
	return &PGAccountStore{db: db}
}

const accountColumns = `id, tenant_id, channel, external_id, display_name, phone_number,
	method, is_enabled, is_connected, status, created_at, updated_at`

func (s *PGAccountStore) GetAccount(ctx context.Context, id uuid.UUID) (*store.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *PGAccountStore) GetAccountByExternalID(ctx context.Context, tenantID string, ch store.ChannelType, externalID string) (*store.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE tenant_id = $1 AND channel = $2 AND external_id = $3`,
		tenantID, ch, externalID)
	return scanAccount(row)
}

func (s *PGAccountStore) ListActiveAccounts(ctx context.Context, tenantID string, ch store.ChannelType) ([]store.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE tenant_id = $1 AND channel = $2 AND status = 'active'
		 ORDER BY created_at`,
		tenantID, ch)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	result := []store.Account{}
	for rows.Next() {
		var a store.Account
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.Channel, &a.ExternalID, &a.DisplayName, &a.PhoneNumber,
			&a.Method, &a.IsEnabled, &a.IsConnected, &a.Status, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *PGAccountStore) ListActiveByChannel(ctx context.Context, ch store.ChannelType) ([]store.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE channel = $1 AND status = 'active'
		 ORDER BY created_at`,
		ch)
	if err != nil {
		return nil, fmt.Errorf("list accounts by channel: %w", err)
	}
	defer rows.Close()

	result := []store.Account{}
	for rows.Next() {
		var a store.Account
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.Channel, &a.ExternalID, &a.DisplayName, &a.PhoneNumber,
			&a.Method, &a.IsEnabled, &a.IsConnected, &a.Status, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *PGAccountStore) LinkAccount(ctx context.Context, acct *store.Account, cap int) (*store.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin link account: %w", err)
	}
	defer tx.Rollback()

	// Serialize concurrent commits for the same tenant+channel. FOR UPDATE on
	// the counted rows is not enough when the count is zero, so take a
	// transaction-scoped advisory lock on the pair instead.
	if _, err := tx.ExecContext(ctx,
		"SELECT pg_advisory_xact_lock(hashtext($1))",
		acct.TenantID+"/"+string(acct.Channel),
	); err != nil {
		return nil, fmt.Errorf("lock tenant channel: %w", err)
	}

	now := time.Now().UTC()

	existing, err := scanAccount(tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE tenant_id = $1 AND channel = $2 AND external_id = $3`,
		acct.TenantID, acct.Channel, acct.ExternalID))
	switch {
	case err == nil:
		reactivating := existing.Status != store.AccountActive
		if reactivating {
			over, cerr := s.atCap(ctx, tx, acct.TenantID, acct.Channel, cap)
			if cerr != nil {
				return nil, cerr
			}
			if over {
				return nil, store.ErrAccountLimit
			}
		}
		enabled := existing.IsEnabled || reactivating
		row := tx.QueryRowContext(ctx,
			`UPDATE accounts SET display_name = $1, phone_number = $2, method = $3,
				status = 'active', is_connected = TRUE, is_enabled = $4, updated_at = $5
			 WHERE id = $6
			 RETURNING `+accountColumns,
			acct.DisplayName, acct.PhoneNumber, acct.Method, enabled, now, existing.ID)
		updated, uerr := scanAccount(row)
		if uerr != nil {
			return nil, uerr
		}
		if cerr := tx.Commit(); cerr != nil {
			return nil, fmt.Errorf("commit link account: %w", cerr)
		}
		return updated, nil

	case errors.Is(err, store.ErrNotFound):
		over, cerr := s.atCap(ctx, tx, acct.TenantID, acct.Channel, cap)
		if cerr != nil {
			return nil, cerr
		}
		if over {
			return nil, store.ErrAccountLimit
		}
		id := acct.ID
		if id == uuid.Nil {
			id = store.GenNewID()
		}
		row := tx.QueryRowContext(ctx,
			`INSERT INTO accounts (`+accountColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, TRUE, 'active', $8, $8)
			 RETURNING `+accountColumns,
			id, acct.TenantID, acct.Channel, acct.ExternalID,
			acct.DisplayName, acct.PhoneNumber, acct.Method, now)
		created, ierr := scanAccount(row)
		if ierr != nil {
			return nil, ierr
		}
		if cerr := tx.Commit(); cerr != nil {
			return nil, fmt.Errorf("commit link account: %w", cerr)
		}
		return created, nil

	default:
		return nil, err
	}
}

func (s *PGAccountStore) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*store.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE accounts SET is_enabled = $1, updated_at = $2 WHERE id = $3
		 RETURNING `+accountColumns,
		enabled, time.Now().UTC(), id)
	return scanAccount(row)
}

func (s *PGAccountStore) SetConnected(ctx context.Context, tenantID string, ch store.ChannelType, externalID string, connected bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET is_connected = $1, updated_at = $2
		 WHERE tenant_id = $3 AND channel = $4 AND external_id = $5 AND status = 'active'`,
		connected, time.Now().UTC(), tenantID, ch, externalID)
	return err
}

func (s *PGAccountStore) RevokeAccount(ctx context.Context, id uuid.UUID) (*store.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE accounts SET status = 'revoked', is_connected = FALSE, is_enabled = FALSE, updated_at = $1
		 WHERE id = $2
		 RETURNING `+accountColumns,
		time.Now().UTC(), id)
	return scanAccount(row)
}

// --- Internal ---

func (s *PGAccountStore) atCap(ctx context.Context, tx *sql.Tx, tenantID string, ch store.ChannelType, cap int) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM accounts WHERE tenant_id = $1 AND channel = $2 AND status = 'active'",
		tenantID, ch).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count active accounts: %w", err)
	}
	return count >= cap, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*store.Account, error) {
	var a store.Account
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Channel, &a.ExternalID, &a.DisplayName, &a.PhoneNumber,
		&a.Method, &a.IsEnabled, &a.IsConnected, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}
