// Package http is the REST + WebSocket surface of the linking service.
// Pairing UIs drive the ceremony through /v1/link, operator tooling manages
// accounts through /v1/accounts, and /v1/events streams lifecycle events.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/linkhub/internal/accounts"
	"github.com/nextlevelbuilder/linkhub/internal/bus"
	"github.com/nextlevelbuilder/linkhub/internal/linking"
)

// Config tunes the HTTP server.
type Config struct {
	Listen         string
	AuthToken      string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server hosts the linking API.
type Server struct {
	orch     *linking.Orchestrator
	registry *accounts.Registry
	bus      *bus.EventBus
	limiter  *RateLimiter

	// authToken is swappable at runtime (config hot reload).
	authToken atomic.Value // string

	srv *http.Server
}

// New assembles the server and its routes.
func New(cfg Config, orch *linking.Orchestrator, registry *accounts.Registry, evbus *bus.EventBus) *Server {
	s := &Server{
		orch:     orch,
		registry: registry,
		bus:      evbus,
		limiter:  NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	s.authToken.Store(cfg.AuthToken)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/link/start", s.handleStart)
	api.HandleFunc("GET /v1/link/{id}", s.handleCheck)
	api.HandleFunc("POST /v1/link/{id}/verify-code", s.handleVerifyCode)
	api.HandleFunc("POST /v1/link/{id}/verify-password", s.handleVerifyPassword)
	api.HandleFunc("POST /v1/link/{id}/resend", s.handleResend)
	api.HandleFunc("POST /v1/link/{id}/cancel", s.handleCancel)
	api.HandleFunc("DELETE /v1/link/{id}", s.handleCancel)

	api.HandleFunc("GET /v1/accounts", s.handleListAccounts)
	api.HandleFunc("GET /v1/accounts/{id}", s.handleGetAccount)
	api.HandleFunc("PATCH /v1/accounts/{id}", s.handlePatchAccount)
	api.HandleFunc("DELETE /v1/accounts/{id}", s.handleDeleteAccount)

	api.HandleFunc("GET /v1/events", s.handleEvents)

	mux.Handle("/v1/", s.requireAuth(api))

	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetAuthToken swaps the bearer token (config hot reload).
func (s *Server) SetAuthToken(token string) {
	s.authToken.Store(token)
}

func (s *Server) token() string {
	return s.authToken.Load().(string)
}

// Handler exposes the root handler for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves until Shutdown.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
