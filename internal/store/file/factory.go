package file

import (
	"github.com/nextlevelbuilder/linkhub/internal/store"
)

// NewFileStores creates the file-backed stores (standalone mode).
// Sessions and accounts share one persisted file.
func NewFileStores(cfg store.StoreConfig) (*store.Stores, error) {
	ls := NewLinkStore(cfg.LinkStorePath)
	return &store.Stores{
		Sessions: ls,
		Accounts: ls,
	}, nil
}
