package http

import (
	"encoding/json"
	"net/http"

	"github.com/nextlevelbuilder/linkhub/internal/config"
	"github.com/nextlevelbuilder/linkhub/internal/store"
)

// maxBodySize bounds request bodies; link requests are tiny.
const maxBodySize = 64 << 10

type startRequest struct {
	TenantID    string `json:"tenant_id"`
	Channel     string `json:"channel"`
	Method      string `json:"method"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}

	tenantID := config.NormalizeTenantID(req.TenantID)
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "tenant_id is required",
			"field": "tenant_id",
		})
		return
	}
	if !s.limiter.Allow(tenantID) {
		writeError(w, http.StatusTooManyRequests, "too many link attempts, slow down")
		return
	}

	res, err := s.orch.StartAuth(r.Context(), tenantID,
		store.ChannelType(req.Channel), store.AuthMethod(req.Method), req.PhoneNumber)
	if err != nil {
		writeLinkError(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.CheckAuth(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLinkError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type verifyRequest struct {
	Code     string `json:"code,omitempty"`
	Password string `json:"password,omitempty"`
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := s.orch.VerifyCode(r.Context(), r.PathValue("id"), req.Code)
	if err != nil {
		writeLinkError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVerifyPassword(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := s.orch.VerifyPassword(r.Context(), r.PathValue("id"), req.Password)
	if err != nil {
		writeLinkError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.ResendCode(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLinkError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.orch.CancelAuth(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": string(store.StatusCancelled)})
}

// decode reads a JSON body, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
