package http

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/linkhub/internal/store"
)

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}

	channels := []store.ChannelType{store.ChannelTelegram, store.ChannelWhatsApp, store.ChannelMax}
	if ch := store.ChannelType(r.URL.Query().Get("channel")); ch != "" {
		if !ch.Valid() {
			writeError(w, http.StatusBadRequest, "unknown channel")
			return
		}
		channels = []store.ChannelType{ch}
	}

	result := []store.Account{}
	for _, ch := range channels {
		accts, err := s.registry.List(r.Context(), tenantID, ch)
		if err != nil {
			writeLinkError(w, nil, err)
			return
		}
		result = append(result, accts...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": result})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	acct, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeLinkError(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type patchAccountRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handlePatchAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var req patchAccountRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	acct, err := s.registry.ToggleEnabled(r.Context(), id, *req.Enabled)
	if err != nil {
		writeLinkError(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	if err := s.registry.Delete(r.Context(), id); err != nil {
		writeLinkError(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return uuid.Nil, false
	}
	return id, true
}
