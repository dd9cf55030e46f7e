package linking

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/linkhub/internal/accounts"
	"github.com/nextlevelbuilder/linkhub/internal/bus"
	"github.com/nextlevelbuilder/linkhub/internal/cooldown"
	"github.com/nextlevelbuilder/linkhub/internal/crypto"
	"github.com/nextlevelbuilder/linkhub/internal/providers"
	"github.com/nextlevelbuilder/linkhub/internal/providers/providertest"
	"github.com/nextlevelbuilder/linkhub/internal/store"
	"github.com/nextlevelbuilder/linkhub/internal/store/file"
)

type testEnv struct {
	orch *Orchestrator
	st   *file.LinkStore
	fake *providertest.Fake
	reg  *accounts.Registry
}

func newTestEnv(t *testing.T, accountCap int) *testEnv {
	t.Helper()

	st := file.NewLinkStore(filepath.Join(t.TempDir(), "link.json"))
	fake := providertest.New(store.ChannelTelegram)
	adapters := providers.NewRegistry()
	adapters.Register(fake)
	evbus := bus.New()
	reg := accounts.NewRegistry(st, adapters, evbus, accountCap)

	keeper, err := crypto.NewKeeper("")
	if err != nil {
		t.Fatalf("keeper: %v", err)
	}

	orch := New(st, reg, adapters, cooldown.NewMemory(time.Minute), keeper, evbus, Config{
		PollInterval: 5 * time.Millisecond,
		SessionTTL:   time.Minute,
	})
	t.Cleanup(orch.Close)

	return &testEnv{orch: orch, st: st, fake: fake, reg: reg}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartAuthValidation(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	cases := []struct {
		name   string
		tenant string
		ch     store.ChannelType
		method store.AuthMethod
		phone  string
	}{
		{"empty tenant", "", store.ChannelTelegram, store.MethodQR, ""},
		{"unknown channel", "t1", "discord", store.MethodQR, ""},
		{"unknown method", "t1", store.ChannelTelegram, "sms", ""},
		{"missing phone", "t1", store.ChannelTelegram, store.MethodPhone, ""},
		{"phone too short", "t1", store.ChannelTelegram, store.MethodPhone, "+123"},
		{"phone with letters", "t1", store.ChannelTelegram, store.MethodPhone, "+12345abc90"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.orch.StartAuth(ctx, tc.tenant, tc.ch, tc.method, tc.phone)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("want ValidationError, got %v", err)
			}
		})
	}
}

func TestStartAuthMethodNotSupported(t *testing.T) {
	env := newTestEnv(t, 0)
	env.fake.Methods[store.MethodPhone] = false

	_, err := env.orch.StartAuth(context.Background(), "t1", store.ChannelTelegram, store.MethodPhone, "+79001234567")
	if !errors.Is(err, providers.ErrMethodNotSupported) {
		t.Fatalf("want ErrMethodNotSupported, got %v", err)
	}
}

func TestQrFlowAuthorizedByWatcher(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	// Pending twice, then authorized.
	calls := 0
	env.fake.CheckStatusFunc = func(context.Context, string) (*providers.StatusResult, error) {
		calls++
		if calls < 3 {
			return &providers.StatusResult{Status: providers.AuthPending}, nil
		}
		return &providers.StatusResult{
			Status:      providers.AuthAuthorized,
			ExternalID:  "ext-42",
			DisplayName: "Ada",
			PhoneNumber: "+79001234567",
		}, nil
	}

	res, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodQR, "")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}
	if res.Status != store.StatusAwaitingQr {
		t.Fatalf("want %s, got %s", store.StatusAwaitingQr, res.Status)
	}
	if res.Payload == "" {
		t.Fatal("want QR payload")
	}

	waitFor(t, "watcher to authorize", func() bool {
		out, ok := env.orch.Outcome(res.SessionID)
		return ok && out.Status == store.StatusAuthorized
	})

	// The record is gone but checkAuth still reports the outcome.
	chk, err := env.orch.CheckAuth(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("CheckAuth: %v", err)
	}
	if chk.Status != store.StatusAuthorized || chk.AccountID == "" {
		t.Fatalf("want authorized with account id, got %+v", chk)
	}

	accts, err := env.reg.List(ctx, "t1", store.ChannelTelegram)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(accts) != 1 || accts[0].ExternalID != "ext-42" || !accts[0].IsEnabled || !accts[0].IsConnected {
		t.Fatalf("unexpected accounts: %+v", accts)
	}
}

func TestQrPayloadRefresh(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	rotated := "data:image/png;base64,rotated"
	env.fake.CheckStatusFunc = func(context.Context, string) (*providers.StatusResult, error) {
		return &providers.StatusResult{
			Status:    providers.AuthPending,
			QrImage:   rotated,
			ExpiresAt: time.Now().Add(time.Minute),
		}, nil
	}

	res, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodQR, "")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}

	waitFor(t, "rotated payload", func() bool {
		chk, cerr := env.orch.CheckAuth(ctx, res.SessionID)
		return cerr == nil && chk.Payload == rotated
	})
}

func TestStartAuthSupersedesOpenSession(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	first, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodQR, "")
	if err != nil {
		t.Fatalf("first StartAuth: %v", err)
	}
	second, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodQR, "")
	if err != nil {
		t.Fatalf("second StartAuth: %v", err)
	}
	if first.SessionID == second.SessionID {
		t.Fatal("expected a fresh session")
	}

	chk, err := env.orch.CheckAuth(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("CheckAuth first: %v", err)
	}
	if chk.Status != store.StatusCancelled {
		t.Fatalf("first session: want cancelled, got %s", chk.Status)
	}

	open, err := env.st.FindOpenSession(ctx, "t1", store.ChannelTelegram, store.MethodQR)
	if err != nil {
		t.Fatalf("FindOpenSession: %v", err)
	}
	if open.ID != second.SessionID {
		t.Fatalf("open session is %s, want %s", open.ID, second.SessionID)
	}
}

func TestPhoneFastPathAlreadyLinked(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	linked, err := env.st.LinkAccount(ctx, &store.Account{
		TenantID:    "t1",
		Channel:     store.ChannelTelegram,
		ExternalID:  "ext-9",
		PhoneNumber: "+79001234567",
		Method:      store.MethodPhone,
	}, 5)
	if err != nil {
		t.Fatalf("LinkAccount: %v", err)
	}

	res, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodPhone, "+79001234567")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}
	if !res.Connected || res.AccountID != linked.ID.String() {
		t.Fatalf("want fast-path result for %s, got %+v", linked.ID, res)
	}
	if res.SessionID != "" {
		t.Fatal("fast path must not open a session")
	}
}

func TestVerifyCodeHappyPath(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	res, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodPhone, "+79001234567")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}
	if res.Status != store.StatusAwaitingCode {
		t.Fatalf("want %s, got %s", store.StatusAwaitingCode, res.Status)
	}

	chk, err := env.orch.VerifyCode(ctx, res.SessionID, "12345")
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if chk.Status != store.StatusAuthorized || chk.AccountID == "" {
		t.Fatalf("want authorized, got %+v", chk)
	}

	if _, err := env.st.GetSession(ctx, res.SessionID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("session should be cleared, got %v", err)
	}
}

func TestVerifyCodeRejectedKeepsSession(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	env.fake.VerifyCodeFunc = func(_ context.Context, _, code string) (*providers.VerifyResult, error) {
		if code != "54321" {
			return nil, providers.Rejected("wrong code")
		}
		return &providers.VerifyResult{Status: providers.AuthAuthorized, ExternalID: "ext-1"}, nil
	}

	res, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodPhone, "+79001234567")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}

	if _, err := env.orch.VerifyCode(ctx, res.SessionID, "11111"); !errors.Is(err, providers.ErrRejected) {
		t.Fatalf("want ErrRejected, got %v", err)
	}

	chk, err := env.orch.CheckAuth(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("CheckAuth: %v", err)
	}
	if chk.Status != store.StatusAwaitingCode || chk.Error == "" {
		t.Fatalf("session should stay open with lastError, got %+v", chk)
	}

	// The right code still works after a rejection.
	chk, err = env.orch.VerifyCode(ctx, res.SessionID, "54321")
	if err != nil {
		t.Fatalf("VerifyCode retry: %v", err)
	}
	if chk.Status != store.StatusAuthorized {
		t.Fatalf("want authorized, got %s", chk.Status)
	}
}

func TestVerifyCodeTransientLeavesSessionUntouched(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	env.fake.VerifyCodeFunc = func(context.Context, string, string) (*providers.VerifyResult, error) {
		return nil, providers.Transient(errors.New("bridge unreachable"))
	}

	res, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodPhone, "+79001234567")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}

	if _, err := env.orch.VerifyCode(ctx, res.SessionID, "12345"); !errors.Is(err, providers.ErrTransient) {
		t.Fatalf("want ErrTransient, got %v", err)
	}

	sess, err := env.st.GetSession(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != store.StatusAwaitingCode || sess.LastError != "" {
		t.Fatalf("transient failure must not touch the session, got %+v", sess)
	}
}

func TestTwoFactorFlow(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	env.fake.VerifyCodeFunc = func(context.Context, string, string) (*providers.VerifyResult, error) {
		return &providers.VerifyResult{Status: providers.AuthNeedsPassword}, nil
	}
	attempts := 0
	env.fake.VerifyPasswordFunc = func(_ context.Context, _, password string) (*providers.VerifyResult, error) {
		attempts++
		if password != "hunter2" {
			return nil, providers.Rejected("bad password")
		}
		return &providers.VerifyResult{Status: providers.AuthAuthorized, ExternalID: "ext-2fa", DisplayName: "Eve"}, nil
	}

	res, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodPhone, "+79001234567")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}

	chk, err := env.orch.VerifyCode(ctx, res.SessionID, "12345")
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if chk.Status != store.StatusNeedsPassword {
		t.Fatalf("want %s, got %s", store.StatusNeedsPassword, chk.Status)
	}

	// Wrong password keeps the session in the password state.
	if _, err := env.orch.VerifyPassword(ctx, res.SessionID, "wrong"); !errors.Is(err, providers.ErrRejected) {
		t.Fatalf("want ErrRejected, got %v", err)
	}
	chk, err = env.orch.CheckAuth(ctx, res.SessionID)
	if err != nil || chk.Status != store.StatusNeedsPassword {
		t.Fatalf("want needs_password after rejection, got %+v (%v)", chk, err)
	}

	chk, err = env.orch.VerifyPassword(ctx, res.SessionID, "hunter2")
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if chk.Status != store.StatusAuthorized {
		t.Fatalf("want authorized, got %s", chk.Status)
	}
	if attempts != 2 {
		t.Fatalf("want 2 password attempts, got %d", attempts)
	}
}

func TestVerifyCodeWrongState(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	res, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodQR, "")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}

	_, err = env.orch.VerifyCode(ctx, res.SessionID, "12345")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError for QR session, got %v", err)
	}
}

func TestResendCodeCooldown(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	res, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodPhone, "+79001234567")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}

	_, err = env.orch.ResendCode(ctx, res.SessionID)
	var cerr *CooldownError
	if !errors.As(err, &cerr) {
		t.Fatalf("want CooldownError right after start, got %v", err)
	}
	if cerr.Remaining <= 0 {
		t.Fatalf("want positive remaining, got %v", cerr.Remaining)
	}
	if env.fake.PhoneStarts() != 1 {
		t.Fatalf("cooldown must block the provider call, got %d starts", env.fake.PhoneStarts())
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	// Unknown session: no error, no panic.
	env.orch.CancelAuth(ctx, "no-such-session")

	res, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodQR, "")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}

	env.orch.CancelAuth(ctx, res.SessionID)
	env.orch.CancelAuth(ctx, res.SessionID) // double cancel is fine

	chk, err := env.orch.CheckAuth(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("CheckAuth: %v", err)
	}
	if chk.Status != store.StatusCancelled {
		t.Fatalf("want cancelled, got %s", chk.Status)
	}

	waitFor(t, "provider-side cancel", func() bool {
		return len(env.fake.CancelRefs()) == 1
	})
}

func TestExpiryEnforcedOnCheck(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	res, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodPhone, "+79001234567")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}

	env.orch.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	chk, err := env.orch.CheckAuth(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("CheckAuth: %v", err)
	}
	if chk.Status != store.StatusExpired {
		t.Fatalf("want expired, got %s", chk.Status)
	}

	if _, err := env.orch.VerifyCode(ctx, res.SessionID, "12345"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("want ErrSessionExpired, got %v", err)
	}
}

func TestAccountLimitParksInSlotWait(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()

	blocker, err := env.st.LinkAccount(ctx, &store.Account{
		TenantID:   "t1",
		Channel:    store.ChannelTelegram,
		ExternalID: "ext-old",
	}, 1)
	if err != nil {
		t.Fatalf("LinkAccount: %v", err)
	}

	res, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodPhone, "+79001234567")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}

	chk, err := env.orch.VerifyCode(ctx, res.SessionID, "12345")
	if !errors.Is(err, ErrAccountLimit) {
		t.Fatalf("want ErrAccountLimit, got %v", err)
	}
	if chk == nil || chk.Status != store.StatusSlotWait {
		t.Fatalf("want slot-wait result, got %+v", chk)
	}

	// Freeing the slot lets the parked session commit.
	if err := env.reg.Delete(ctx, blocker.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	waitFor(t, "parked session to commit", func() bool {
		out, ok := env.orch.Outcome(res.SessionID)
		return ok && out.Status == store.StatusAuthorized
	})
}

func TestResumeRestartsWatchers(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	res, err := env.orch.StartAuth(ctx, "t1", store.ChannelTelegram, store.MethodQR, "")
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}
	env.orch.Close()

	env.fake.CheckStatusFunc = func(context.Context, string) (*providers.StatusResult, error) {
		return &providers.StatusResult{Status: providers.AuthAuthorized, ExternalID: "ext-resume"}, nil
	}

	if err := env.orch.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitFor(t, "resumed session to authorize", func() bool {
		out, ok := env.orch.Outcome(res.SessionID)
		return ok && out.Status == store.StatusAuthorized
	})
}

func TestCheckAuthUnknownSession(t *testing.T) {
	env := newTestEnv(t, 0)

	_, err := env.orch.CheckAuth(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}
