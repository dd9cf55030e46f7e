// Package linking drives the account pairing ceremony from initiation to a
// terminal state.
//
// A tenant starts a ceremony (QR scan or phone + one-time code, optionally
// followed by a 2FA password) against a provider's session API. The
// orchestrator owns the session record, a server-side poll watcher advances it
// every 2 seconds, and an authorized ceremony commits an Account row through
// the account registry. Terminal states (authorized, expired, cancelled,
// error) always leave the (tenant, channel, method) combination free for a
// fresh start with no manual cleanup.
//
// The session store is the single source of truth: every mutation goes
// through an optimistic version check, so a poll tick that observed
// "authorized" and a concurrent cancel cannot both win — the loser's write is
// discarded.
package linking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nextlevelbuilder/linkhub/internal/accounts"
	"github.com/nextlevelbuilder/linkhub/internal/bus"
	"github.com/nextlevelbuilder/linkhub/internal/cooldown"
	"github.com/nextlevelbuilder/linkhub/internal/crypto"
	"github.com/nextlevelbuilder/linkhub/internal/providers"
	"github.com/nextlevelbuilder/linkhub/internal/store"
)

const (
	// DefaultPollInterval is the checkStatus cadence.
	DefaultPollInterval = 2 * time.Second
	// DefaultSessionTTL bounds a ceremony when the provider supplies no
	// deadline of its own. Payload refreshes push the deadline forward.
	DefaultSessionTTL = 2 * time.Minute
	// terminalCacheSize bounds the cache of recently finished sessions, kept so
	// a late checkAuth still learns the terminal outcome after cleanup.
	terminalCacheSize = 512
	// cancelTimeout bounds the best-effort provider-side abandon call.
	cancelTimeout = 10 * time.Second
)

var (
	phoneRe = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	codeRe  = regexp.MustCompile(`^[0-9]{4,6}$`)
)

// Config tunes the orchestrator.
type Config struct {
	PollInterval   time.Duration
	SessionTTL     time.Duration
	ResendCooldown time.Duration
}

func (c *Config) fill() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.ResendCooldown <= 0 {
		c.ResendCooldown = cooldown.Default
	}
}

// TerminalOutcome is what remains of a session after its record is cleared.
type TerminalOutcome struct {
	Status    store.SessionStatus
	AccountID string
	Error     string
}

// StartResult is the initial payload of startAuth.
type StartResult struct {
	SessionID string              `json:"session_id,omitempty"`
	Status    store.SessionStatus `json:"status,omitempty"`
	Payload   string              `json:"payload,omitempty"`
	ExpiresAt time.Time           `json:"expires_at,omitempty"`

	// Connected is the fast path: the submitted phone number already belongs
	// to an active, connected account — no ceremony needed.
	Connected bool   `json:"connected,omitempty"`
	AccountID string `json:"account_id,omitempty"`
}

// CheckResult is one observation of a session, shaped for the API.
type CheckResult struct {
	Status    store.SessionStatus `json:"status"`
	Payload   string              `json:"payload,omitempty"`
	ExpiresAt time.Time           `json:"expires_at,omitempty"`
	AccountID string              `json:"account_id,omitempty"`
	Error     string              `json:"error,omitempty"`
	ErrorCode string              `json:"error_code,omitempty"`
}

// Orchestrator is the account-linking state machine.
type Orchestrator struct {
	sessions store.SessionStore
	registry *accounts.Registry
	adapters *providers.Registry
	cooldown cooldown.Limiter
	keeper   *crypto.Keeper
	bus      *bus.EventBus
	cfg      Config

	watchers *watcherSet
	terminal *lru.Cache[string, TerminalOutcome]

	now func() time.Time
}

// New creates an orchestrator. Call Resume to pick up sessions that survived
// a restart, and Close on shutdown.
func New(
	sessions store.SessionStore,
	registry *accounts.Registry,
	adapters *providers.Registry,
	cd cooldown.Limiter,
	keeper *crypto.Keeper,
	evbus *bus.EventBus,
	cfg Config,
) *Orchestrator {
	cfg.fill()
	cache, _ := lru.New[string, TerminalOutcome](terminalCacheSize)
	return &Orchestrator{
		sessions: sessions,
		registry: registry,
		adapters: adapters,
		cooldown: cd,
		keeper:   keeper,
		bus:      evbus,
		cfg:      cfg,
		watchers: newWatcherSet(),
		terminal: cache,
		now:      time.Now,
	}
}

// Resume restarts poll watchers for sessions that were open when the process
// last stopped.
func (o *Orchestrator) Resume(ctx context.Context) error {
	open, err := o.sessions.ListOpenSessions(ctx)
	if err != nil {
		return fmt.Errorf("list open sessions: %w", err)
	}
	for i := range open {
		o.watchers.start(open[i].ID, o.cfg.PollInterval, o.tick)
	}
	if len(open) > 0 {
		slog.Info("resumed link sessions", "count", len(open))
	}
	return nil
}

// Close stops all poll watchers. Open sessions stay in the store and resume
// on the next start.
func (o *Orchestrator) Close() {
	o.watchers.haltAll()
}

// StartAuth begins a pairing ceremony for tenant+channel+method. Any existing
// non-terminal session for the same combination is cancelled first, so the
// call is always possible regardless of prior state.
func (o *Orchestrator) StartAuth(ctx context.Context, tenantID string, ch store.ChannelType, method store.AuthMethod, phoneNumber string) (*StartResult, error) {
	if tenantID == "" {
		return nil, invalid("tenant_id", "required")
	}
	if !ch.Valid() {
		return nil, invalid("channel", "unknown channel type")
	}
	if !method.Valid() {
		return nil, invalid("method", "must be qr or phone")
	}
	if method == store.MethodPhone && !phoneRe.MatchString(phoneNumber) {
		return nil, invalid("phone_number", "must be 7-15 digits, optional leading +")
	}

	adapter, err := o.adapters.Get(ch)
	if err != nil {
		return nil, invalid("channel", err.Error())
	}
	if !adapter.Supports(method) {
		return nil, fmt.Errorf("%w: %s does not offer %s", providers.ErrMethodNotSupported, ch, method)
	}

	// Already linked: a connected account with the same number needs no
	// ceremony. Only decidable for the phone method — a QR scan's identity is
	// unknown until the provider reports it.
	if method == store.MethodPhone {
		if acct := o.findConnectedByPhone(ctx, tenantID, ch, phoneNumber); acct != nil {
			return &StartResult{Connected: true, AccountID: acct.ID.String()}, nil
		}
	}

	// One non-terminal session per combination: a new start supersedes.
	if prior, ferr := o.sessions.FindOpenSession(ctx, tenantID, ch, method); ferr == nil {
		slog.Info("superseding open link session", "session", prior.ID, "tenant", tenantID, "channel", ch)
		o.cancelSession(ctx, prior)
	}

	now := o.now().UTC()
	sess := &store.LinkSession{
		ID:          store.GenNewID().String(),
		TenantID:    tenantID,
		Channel:     ch,
		Method:      method,
		PhoneNumber: phoneNumber,
		CreatedAt:   now,
		ExpiresAt:   now.Add(o.cfg.SessionTTL),
	}
	if method == store.MethodQR {
		sess.Status = store.StatusQrPending
	} else {
		sess.Status = store.StatusPhoneInput
	}
	if err := o.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if method == store.MethodQR {
		return o.startQr(ctx, adapter, sess)
	}
	return o.startPhone(ctx, adapter, sess)
}

func (o *Orchestrator) startQr(ctx context.Context, adapter providers.Adapter, sess *store.LinkSession) (*StartResult, error) {
	res, err := adapter.StartQr(ctx, sess.TenantID)
	if err != nil {
		o.recordStartError(ctx, sess, err)
		return nil, err
	}

	sess.Payload = res.QrImage
	if !res.ExpiresAt.IsZero() {
		sess.ExpiresAt = res.ExpiresAt
	}
	if sess.ProviderRef, err = o.keeper.Seal(res.Ref); err != nil {
		return nil, fmt.Errorf("seal provider ref: %w", err)
	}
	sess.Status = store.StatusAwaitingQr
	if err := o.sessions.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	slog.Info("qr ceremony started", "session", sess.ID, "tenant", sess.TenantID, "channel", sess.Channel)
	o.publish(sess)
	o.watchers.start(sess.ID, o.cfg.PollInterval, o.tick)

	return &StartResult{
		SessionID: sess.ID,
		Status:    sess.Status,
		Payload:   sess.Payload,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

func (o *Orchestrator) startPhone(ctx context.Context, adapter providers.Adapter, sess *store.LinkSession) (*StartResult, error) {
	res, err := adapter.StartPhone(ctx, sess.TenantID, sess.PhoneNumber)
	if err != nil {
		o.recordStartError(ctx, sess, err)
		return nil, err
	}

	sess.Payload = res.PairingCode
	if !res.ExpiresAt.IsZero() {
		sess.ExpiresAt = res.ExpiresAt
	}
	if sess.ProviderRef, err = o.keeper.Seal(res.Ref); err != nil {
		return nil, fmt.Errorf("seal provider ref: %w", err)
	}
	sess.Status = store.StatusAwaitingCode
	if err := o.sessions.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	o.cooldown.Mark(ctx, sess.ID)

	slog.Info("phone ceremony started", "session", sess.ID, "tenant", sess.TenantID, "channel", sess.Channel)
	o.publish(sess)
	o.watchers.start(sess.ID, o.cfg.PollInterval, o.tick)

	return &StartResult{
		SessionID: sess.ID,
		Status:    sess.Status,
		Payload:   sess.Payload,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// CheckAuth returns the session's current state. It never calls the provider:
// the poll watcher owns that. Expiry is enforced here defensively, and a
// session already in the slot-wait holding state retries its commit.
func (o *Orchestrator) CheckAuth(ctx context.Context, sessionID string) (*CheckResult, error) {
	sess, outcome, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return outcomeResult(outcome), nil
	}

	if sess.Status.Terminal() {
		return snapshot(sess), nil
	}
	if sess.Expired(o.now()) {
		o.finalize(ctx, sess, store.StatusExpired, "session expired")
		return &CheckResult{Status: store.StatusExpired, Error: "session expired"}, nil
	}
	if sess.Status == store.StatusSlotWait {
		res, cerr := o.commit(ctx, sess)
		if cerr != nil && !errors.Is(cerr, ErrAccountLimit) {
			slog.Warn("slot-wait commit failed", "session", sess.ID, "error", cerr)
			return snapshot(sess), nil
		}
		return res, nil
	}
	return snapshot(sess), nil
}

// VerifyCode submits the one-time code for a phone ceremony. An invalid or
// expired code keeps the session open (lastError set); the caller may retry
// or wait out the resend cooldown.
func (o *Orchestrator) VerifyCode(ctx context.Context, sessionID, code string) (*CheckResult, error) {
	if !codeRe.MatchString(code) {
		return nil, invalid("code", "must be 4-6 digits")
	}

	sess, adapter, err := o.loadOpen(ctx, sessionID, store.StatusAwaitingCode)
	if err != nil {
		return nil, err
	}

	ref, err := o.keeper.Open(sess.ProviderRef)
	if err != nil {
		return nil, fmt.Errorf("open provider ref: %w", err)
	}

	res, err := adapter.VerifyCode(ctx, ref, code)
	if err != nil {
		return nil, o.verifyFailure(ctx, sess, err)
	}
	return o.verifySuccess(ctx, sess, res)
}

// VerifyPassword submits the 2FA password. Repeated failures are allowed
// until the session expires.
func (o *Orchestrator) VerifyPassword(ctx context.Context, sessionID, password string) (*CheckResult, error) {
	if password == "" {
		return nil, invalid("password", "required")
	}

	sess, adapter, err := o.loadOpen(ctx, sessionID, store.StatusNeedsPassword)
	if err != nil {
		return nil, err
	}

	ref, err := o.keeper.Open(sess.ProviderRef)
	if err != nil {
		return nil, fmt.Errorf("open provider ref: %w", err)
	}

	res, err := adapter.VerifyPassword(ctx, ref, password)
	if err != nil {
		return nil, o.verifyFailure(ctx, sess, err)
	}
	return o.verifySuccess(ctx, sess, res)
}

// ResendCode re-dispatches the one-time code, gated by the 60s cooldown.
// The cooldown never expires the session itself.
func (o *Orchestrator) ResendCode(ctx context.Context, sessionID string) (*CheckResult, error) {
	sess, adapter, err := o.loadOpen(ctx, sessionID, store.StatusAwaitingCode)
	if err != nil {
		return nil, err
	}

	remaining, err := o.cooldown.Remaining(ctx, sess.ID)
	if err != nil {
		slog.Warn("cooldown lookup failed, allowing resend", "session", sess.ID, "error", err)
	}
	if remaining > 0 {
		return nil, &CooldownError{Remaining: remaining}
	}

	res, err := adapter.StartPhone(ctx, sess.TenantID, sess.PhoneNumber)
	if err != nil {
		return nil, o.verifyFailure(ctx, sess, err)
	}

	sess.Payload = res.PairingCode
	if !res.ExpiresAt.IsZero() {
		sess.ExpiresAt = res.ExpiresAt
	}
	if sess.ProviderRef, err = o.keeper.Seal(res.Ref); err != nil {
		return nil, fmt.Errorf("seal provider ref: %w", err)
	}
	sess.LastError = ""
	if err := o.sessions.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	o.cooldown.Mark(ctx, sess.ID)
	slog.Info("code resent", "session", sess.ID, "channel", sess.Channel)
	o.publish(sess)
	return snapshot(sess), nil
}

// CancelAuth abandons the ceremony. Always succeeds from the caller's
// perspective: unknown, already-terminal, and double cancels are all fine,
// and a failing provider-side abandon is logged, never surfaced.
func (o *Orchestrator) CancelAuth(ctx context.Context, sessionID string) {
	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil || sess.Status.Terminal() {
		return
	}
	o.cancelSession(ctx, sess)
}

// Outcome reports the remembered terminal result of a cleared session.
func (o *Orchestrator) Outcome(sessionID string) (TerminalOutcome, bool) {
	return o.terminal.Get(sessionID)
}

// --- Poll watcher tick ---

// tick advances one session: expiry first, then either a provider checkStatus
// (QR scan, phone code, password ceremonies) or a commit retry (slot wait).
// Transient provider errors are absorbed; the next tick retries.
func (o *Orchestrator) tick(ctx context.Context, sessionID string) {
	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil || sess.Status.Terminal() {
		o.watchers.halt(sessionID)
		return
	}

	if sess.Expired(o.now()) {
		o.finalize(ctx, sess, store.StatusExpired, "session expired")
		return
	}

	switch sess.Status {
	case store.StatusAwaitingQr, store.StatusAwaitingCode, store.StatusNeedsPassword:
		o.pollProvider(ctx, sess)
	case store.StatusSlotWait:
		if _, err := o.commit(ctx, sess); err != nil && !errors.Is(err, ErrAccountLimit) {
			slog.Warn("slot-wait commit failed", "session", sess.ID, "error", err)
		}
	}
}

func (o *Orchestrator) pollProvider(ctx context.Context, sess *store.LinkSession) {
	adapter, err := o.adapters.Get(sess.Channel)
	if err != nil {
		o.finalize(ctx, sess, store.StatusError, err.Error())
		return
	}

	ref, err := o.keeper.Open(sess.ProviderRef)
	if err != nil {
		o.finalize(ctx, sess, store.StatusError, "provider ref unreadable")
		return
	}

	res, err := adapter.CheckStatus(ctx, ref)
	if err != nil {
		if errors.Is(err, providers.ErrSessionDead) {
			o.finalize(ctx, sess, store.StatusError, err.Error())
			return
		}
		// Transient: retried by the next tick, never fatal.
		slog.Debug("checkStatus failed, retrying next tick", "session", sess.ID, "error", err)
		return
	}

	switch res.Status {
	case providers.AuthPending:
		// Provider may have rotated the QR payload.
		if res.QrImage != "" && res.QrImage != sess.Payload {
			sess.Payload = res.QrImage
			if !res.ExpiresAt.IsZero() {
				sess.ExpiresAt = res.ExpiresAt
			}
			if err := o.sessions.UpdateSession(ctx, sess); err != nil {
				return // lost a race against cancel/expiry; discard
			}
			slog.Debug("qr payload refreshed", "session", sess.ID, "expires_at", sess.ExpiresAt)
			o.publish(sess)
		}

	case providers.AuthNeedsPassword:
		if sess.Status != store.StatusNeedsPassword {
			o.transition(ctx, sess, store.StatusNeedsPassword)
		}

	case providers.AuthAuthorized:
		sess.PendingExternalID = res.ExternalID
		sess.PendingDisplayName = res.DisplayName
		if res.PhoneNumber != "" {
			sess.PhoneNumber = res.PhoneNumber
		}
		if err := o.sessions.UpdateSession(ctx, sess); err != nil {
			return // cancel won the race; the result is discarded
		}
		if _, err := o.commit(ctx, sess); err != nil && !errors.Is(err, ErrAccountLimit) {
			slog.Warn("commit after authorization failed", "session", sess.ID, "error", err)
		}

	case providers.AuthExpired:
		o.finalize(ctx, sess, store.StatusExpired, "provider expired the ceremony")
	}
}

// --- Internal ---

// load resolves a session id to either a live session or a remembered
// terminal outcome.
func (o *Orchestrator) load(ctx context.Context, sessionID string) (*store.LinkSession, *TerminalOutcome, error) {
	if sessionID == "" {
		return nil, nil, invalid("session_id", "required")
	}
	sess, err := o.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		if outcome, ok := o.terminal.Get(sessionID); ok {
			return nil, &outcome, nil
		}
		return nil, nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return sess, nil, nil
}

// loadOpen is the guard shared by the verify/resend operations: the session
// must exist, not be expired, and sit in the expected state.
func (o *Orchestrator) loadOpen(ctx context.Context, sessionID string, want store.SessionStatus) (*store.LinkSession, providers.Adapter, error) {
	sess, outcome, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if outcome != nil {
		if outcome.Status == store.StatusExpired {
			return nil, nil, ErrSessionExpired
		}
		return nil, nil, ErrSessionNotFound
	}
	if sess.Status.Terminal() {
		if sess.Status == store.StatusExpired {
			return nil, nil, ErrSessionExpired
		}
		return nil, nil, ErrSessionNotFound
	}
	if sess.Expired(o.now()) {
		o.finalize(ctx, sess, store.StatusExpired, "session expired")
		return nil, nil, ErrSessionExpired
	}
	if sess.Status != want {
		return nil, nil, invalid("session", fmt.Sprintf("not in %s state", want))
	}
	adapter, err := o.adapters.Get(sess.Channel)
	if err != nil {
		return nil, nil, err
	}
	return sess, adapter, nil
}

// verifyFailure classifies a provider error on a caller-driven step. Rejection
// keeps the session open with lastError set; only an explicit session-dead
// signal tears it down.
func (o *Orchestrator) verifyFailure(ctx context.Context, sess *store.LinkSession, err error) error {
	switch {
	case errors.Is(err, providers.ErrRejected):
		sess.LastError = err.Error()
		if uerr := o.sessions.UpdateSession(ctx, sess); uerr != nil {
			slog.Debug("lastError update lost a race", "session", sess.ID)
		}
		return err
	case errors.Is(err, providers.ErrSessionDead):
		o.finalize(ctx, sess, store.StatusError, err.Error())
		return err
	default:
		// Transient or unclassified: surfaced, session untouched, same step
		// may be retried.
		return err
	}
}

func (o *Orchestrator) verifySuccess(ctx context.Context, sess *store.LinkSession, res *providers.VerifyResult) (*CheckResult, error) {
	sess.LastError = ""

	if res.Status == providers.AuthNeedsPassword {
		if err := o.transition(ctx, sess, store.StatusNeedsPassword); err != nil {
			return nil, err
		}
		return snapshot(sess), nil
	}

	sess.PendingExternalID = res.ExternalID
	sess.PendingDisplayName = res.DisplayName
	if res.PhoneNumber != "" {
		sess.PhoneNumber = res.PhoneNumber
	}
	if err := o.sessions.UpdateSession(ctx, sess); err != nil {
		return nil, ErrSessionNotFound // cancelled underneath us
	}
	return o.commit(ctx, sess)
}

// commit turns an authorized ceremony into an Account row. On
// ErrAccountLimit the session parks in the slot-wait state and the provider
// credential is kept; every later tick retries until a slot frees or the
// session expires.
func (o *Orchestrator) commit(ctx context.Context, sess *store.LinkSession) (*CheckResult, error) {
	acct, err := o.registry.CreateFromSession(ctx, sess)
	if errors.Is(err, store.ErrAccountLimit) {
		if sess.Status != store.StatusSlotWait {
			sess.LastError = "account limit exceeded"
			if terr := o.transition(ctx, sess, store.StatusSlotWait); terr != nil {
				return nil, terr
			}
			slog.Info("authorization parked at account cap",
				"session", sess.ID, "tenant", sess.TenantID, "channel", sess.Channel)
		}
		return &CheckResult{
			Status:    store.StatusSlotWait,
			Error:     "account limit exceeded",
			ErrorCode: "ACCOUNT_LIMIT_EXCEEDED",
			ExpiresAt: sess.ExpiresAt,
		}, ErrAccountLimit
	}
	if err != nil {
		return nil, err
	}

	o.watchers.halt(sess.ID)
	o.terminal.Add(sess.ID, TerminalOutcome{
		Status:    store.StatusAuthorized,
		AccountID: acct.ID.String(),
	})
	if err := o.sessions.DeleteSession(ctx, sess.ID); err != nil {
		slog.Warn("authorized session cleanup failed", "session", sess.ID, "error", err)
	}
	o.cooldown.Clear(ctx, sess.ID)

	sess.Status = store.StatusAuthorized
	o.publish(sess)

	return &CheckResult{
		Status:    store.StatusAuthorized,
		AccountID: acct.ID.String(),
	}, nil
}

// cancelSession marks the session cancelled, stops its watcher, and abandons
// the ceremony provider-side with best effort. Never fails.
func (o *Orchestrator) cancelSession(ctx context.Context, sess *store.LinkSession) {
	o.watchers.halt(sess.ID)

	for {
		sess.Status = store.StatusCancelled
		err := o.sessions.UpdateSession(ctx, sess)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrVersionConflict) {
			fresh, gerr := o.sessions.GetSession(ctx, sess.ID)
			if gerr != nil || fresh.Status.Terminal() {
				return
			}
			sess = fresh
			continue
		}
		slog.Warn("cancel persist failed", "session", sess.ID, "error", err)
		break
	}

	o.terminal.Add(sess.ID, TerminalOutcome{Status: store.StatusCancelled})
	o.cooldown.Clear(ctx, sess.ID)
	slog.Info("link session cancelled", "session", sess.ID, "tenant", sess.TenantID, "channel", sess.Channel)
	o.publish(sess)

	// Provider-side abandon must never block or fail the cancel.
	if ref, err := o.keeper.Open(sess.ProviderRef); err == nil && ref != "" {
		adapter, aerr := o.adapters.Get(sess.Channel)
		if aerr != nil {
			return
		}
		go func() {
			cctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
			defer cancel()
			if err := adapter.Cancel(cctx, ref); err != nil {
				slog.Warn("provider cancel failed", "session", sess.ID, "channel", sess.Channel, "error", err)
			}
		}()
	}
}

// finalize moves a session to a terminal status and remembers the outcome.
func (o *Orchestrator) finalize(ctx context.Context, sess *store.LinkSession, status store.SessionStatus, msg string) {
	o.watchers.halt(sess.ID)

	sess.LastError = msg
	if err := o.transition(ctx, sess, status); err != nil {
		return
	}
	o.terminal.Add(sess.ID, TerminalOutcome{Status: status, Error: msg})
	o.cooldown.Clear(ctx, sess.ID)
	slog.Info("link session finished", "session", sess.ID, "status", status, "reason", msg)
}

// transition applies a guarded state change. A disallowed edge or a lost
// version race leaves the store untouched.
func (o *Orchestrator) transition(ctx context.Context, sess *store.LinkSession, to store.SessionStatus) error {
	if !CanTransition(sess.Status, to) {
		return fmt.Errorf("illegal transition %s -> %s", sess.Status, to)
	}
	sess.Status = to
	if err := o.sessions.UpdateSession(ctx, sess); err != nil {
		return err
	}
	o.publish(sess)
	return nil
}

func (o *Orchestrator) findConnectedByPhone(ctx context.Context, tenantID string, ch store.ChannelType, phone string) *store.Account {
	accts, err := o.registry.List(ctx, tenantID, ch)
	if err != nil {
		return nil
	}
	for i := range accts {
		if accts[i].PhoneNumber == phone && accts[i].IsConnected {
			return &accts[i]
		}
	}
	return nil
}

func (o *Orchestrator) recordStartError(ctx context.Context, sess *store.LinkSession, err error) {
	sess.LastError = err.Error()
	if uerr := o.sessions.UpdateSession(ctx, sess); uerr != nil {
		slog.Debug("start error not recorded", "session", sess.ID, "error", uerr)
	}
}

func (o *Orchestrator) publish(sess *store.LinkSession) {
	o.bus.Publish(bus.Event{
		Type:      bus.EventSessionStatus,
		TenantID:  sess.TenantID,
		Channel:   sess.Channel,
		SessionID: sess.ID,
		Status:    sess.Status,
	})
}

func snapshot(sess *store.LinkSession) *CheckResult {
	return &CheckResult{
		Status:    sess.Status,
		Payload:   sess.Payload,
		ExpiresAt: sess.ExpiresAt,
		Error:     sess.LastError,
	}
}

func outcomeResult(outcome *TerminalOutcome) *CheckResult {
	return &CheckResult{
		Status:    outcome.Status,
		AccountID: outcome.AccountID,
		Error:     outcome.Error,
	}
}
