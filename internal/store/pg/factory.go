package pg

import (
	"database/sql"

	"github.com/nextlevelbuilder/linkhub/internal/store"
)

// NewPGStores creates Postgres-backed stores (managed mode) and runs pending
// schema migrations.
func NewPGStores(db *sql.DB) (*store.Stores, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &store.Stores{
		Sessions: NewPGSessionStore(db),
		Accounts: NewPGAccountStore(db),
	}, nil
}
