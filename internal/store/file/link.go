// Package file implements filesystem-backed stores for standalone mode.
//
// Sessions and accounts live in a single JSON file that is rewritten on every
// mutation. This is deliberate: a linking service has at most a handful of
// in-flight ceremonies and a few dozen accounts per deployment, and a flat
// file survives restarts without external infrastructure.
package file

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/linkhub/internal/store"
)

type persisted struct {
	Version  int                 `json:"version"`
	Sessions []store.LinkSession `json:"sessions"`
	Accounts []store.Account     `json:"accounts"`
}

// LinkStore is a mutex-guarded, JSON-file-persisted implementation of both
// store.SessionStore and store.AccountStore.
type LinkStore struct {
	path string
	mu   sync.Mutex
	data persisted
}

// NewLinkStore creates a store persisted at path (e.g. ~/.linkhub/data/link.json).
func NewLinkStore(path string) *LinkStore {
	s := &LinkStore{path: path, data: persisted{Version: 1}}
	s.load()
	return s
}

// --- store.SessionStore ---

func (s *LinkStore) CreateSession(_ context.Context, sess *store.LinkSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.Version = 1
	s.data.Sessions = append(s.data.Sessions, *sess)
	s.save()
	return nil
}

func (s *LinkStore) GetSession(_ context.Context, id string) (*store.LinkSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Sessions {
		if s.data.Sessions[i].ID == id {
			cp := s.data.Sessions[i]
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *LinkStore) UpdateSession(_ context.Context, sess *store.LinkSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Sessions {
		if s.data.Sessions[i].ID != sess.ID {
			continue
		}
		if s.data.Sessions[i].Version != sess.Version {
			return store.ErrVersionConflict
		}
		sess.Version++
		s.data.Sessions[i] = *sess
		s.save()
		return nil
	}
	return store.ErrNotFound
}

func (s *LinkStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Sessions {
		if s.data.Sessions[i].ID == id {
			s.data.Sessions = append(s.data.Sessions[:i], s.data.Sessions[i+1:]...)
			s.save()
			return nil
		}
	}
	return nil
}

func (s *LinkStore) FindOpenSession(_ context.Context, tenantID string, ch store.ChannelType, m store.AuthMethod) (*store.LinkSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Sessions {
		sess := &s.data.Sessions[i]
		if sess.TenantID == tenantID && sess.Channel == ch && sess.Method == m && !sess.Status.Terminal() {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *LinkStore) ListOpenSessions(_ context.Context) ([]store.LinkSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []store.LinkSession{}
	for i := range s.data.Sessions {
		if !s.data.Sessions[i].Status.Terminal() {
			result = append(result, s.data.Sessions[i])
		}
	}
	return result, nil
}

// --- store.AccountStore ---

func (s *LinkStore) GetAccount(_ context.Context, id uuid.UUID) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Accounts {
		if s.data.Accounts[i].ID == id {
			cp := s.data.Accounts[i]
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *LinkStore) GetAccountByExternalID(_ context.Context, tenantID string, ch store.ChannelType, externalID string) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a := s.findByKey(tenantID, ch, externalID); a != nil {
		cp := *a
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (s *LinkStore) ListActiveAccounts(_ context.Context, tenantID string, ch store.ChannelType) ([]store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []store.Account{}
	for i := range s.data.Accounts {
		a := &s.data.Accounts[i]
		if a.TenantID == tenantID && a.Channel == ch && a.Status == store.AccountActive {
			result = append(result, *a)
		}
	}
	// Accounts are appended in creation order; keep that ordering.
	return result, nil
}

func (s *LinkStore) ListActiveByChannel(_ context.Context, ch store.ChannelType) ([]store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []store.Account{}
	for i := range s.data.Accounts {
		a := &s.data.Accounts[i]
		if a.Channel == ch && a.Status == store.AccountActive {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (s *LinkStore) LinkAccount(_ context.Context, acct *store.Account, cap int) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	if existing := s.findByKey(acct.TenantID, acct.Channel, acct.ExternalID); existing != nil {
		reactivating := existing.Status != store.AccountActive
		if reactivating && s.activeCount(acct.TenantID, acct.Channel) >= cap {
			return nil, store.ErrAccountLimit
		}
		existing.DisplayName = acct.DisplayName
		existing.PhoneNumber = acct.PhoneNumber
		existing.Method = acct.Method
		existing.Status = store.AccountActive
		existing.IsConnected = true
		if reactivating {
			existing.IsEnabled = true
		}
		existing.UpdatedAt = now
		s.save()
		cp := *existing
		return &cp, nil
	}

	if s.activeCount(acct.TenantID, acct.Channel) >= cap {
		return nil, store.ErrAccountLimit
	}

	cp := *acct
	if cp.ID == uuid.Nil {
		cp.ID = store.GenNewID()
	}
	cp.Status = store.AccountActive
	cp.IsConnected = true
	cp.IsEnabled = true
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.data.Accounts = append(s.data.Accounts, cp)
	s.save()
	return &cp, nil
}

func (s *LinkStore) SetEnabled(_ context.Context, id uuid.UUID, enabled bool) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Accounts {
		a := &s.data.Accounts[i]
		if a.ID == id {
			a.IsEnabled = enabled
			a.UpdatedAt = time.Now().UTC()
			s.save()
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *LinkStore) SetConnected(_ context.Context, tenantID string, ch store.ChannelType, externalID string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.findByKey(tenantID, ch, externalID)
	if a == nil || a.Status != store.AccountActive {
		return nil
	}
	a.IsConnected = connected
	a.UpdatedAt = time.Now().UTC()
	s.save()
	return nil
}

func (s *LinkStore) RevokeAccount(_ context.Context, id uuid.UUID) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Accounts {
		a := &s.data.Accounts[i]
		if a.ID == id {
			a.Status = store.AccountRevoked
			a.IsConnected = false
			a.IsEnabled = false
			a.UpdatedAt = time.Now().UTC()
			s.save()
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// --- Internal ---

// findByKey must be called with s.mu held.
func (s *LinkStore) findByKey(tenantID string, ch store.ChannelType, externalID string) *store.Account {
	for i := range s.data.Accounts {
		a := &s.data.Accounts[i]
		if a.TenantID == tenantID && a.Channel == ch && a.ExternalID == externalID {
			return a
		}
	}
	return nil
}

// activeCount must be called with s.mu held.
func (s *LinkStore) activeCount(tenantID string, ch store.ChannelType) int {
	n := 0
	for i := range s.data.Accounts {
		a := &s.data.Accounts[i]
		if a.TenantID == tenantID && a.Channel == ch && a.Status == store.AccountActive {
			n++
		}
	}
	return n
}

func (s *LinkStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return // file doesn't exist yet
	}
	json.Unmarshal(data, &s.data)
}

func (s *LinkStore) save() {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		slog.Error("link store: failed to create dir", "error", err)
		return
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		slog.Error("link store: failed to marshal", "error", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		slog.Error("link store: failed to write", "error", err)
	}
}
