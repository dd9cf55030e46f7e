// Package providertest provides a scripted Adapter for tests.
package providertest

import (
	"context"
	"sync"
	"time"

	"github.com/nextlevelbuilder/linkhub/internal/providers"
	"github.com/nextlevelbuilder/linkhub/internal/store"
)

// Fake is an in-memory Adapter whose behavior is driven by function fields.
// Unset fields fall back to a plain happy path. All call recording is
// goroutine-safe so watcher ticks can run against it.
type Fake struct {
	ChannelType store.ChannelType
	Methods     map[store.AuthMethod]bool

	StartQrFunc        func(ctx context.Context, tenantID string) (*providers.StartQrResult, error)
	StartPhoneFunc     func(ctx context.Context, tenantID, phone string) (*providers.StartPhoneResult, error)
	CheckStatusFunc    func(ctx context.Context, ref string) (*providers.StatusResult, error)
	VerifyCodeFunc     func(ctx context.Context, ref, code string) (*providers.VerifyResult, error)
	VerifyPasswordFunc func(ctx context.Context, ref, password string) (*providers.VerifyResult, error)

	mu          sync.Mutex
	checkCalls  int
	cancelRefs  []string
	logoutRefs  []string
	phoneStarts int
}

// New returns a Fake for channel ch supporting both methods.
func New(ch store.ChannelType) *Fake {
	return &Fake{
		ChannelType: ch,
		Methods:     map[store.AuthMethod]bool{store.MethodQR: true, store.MethodPhone: true},
	}
}

func (f *Fake) Channel() store.ChannelType { return f.ChannelType }

func (f *Fake) Supports(m store.AuthMethod) bool { return f.Methods[m] }

func (f *Fake) StartQr(ctx context.Context, tenantID string) (*providers.StartQrResult, error) {
	if f.StartQrFunc != nil {
		return f.StartQrFunc(ctx, tenantID)
	}
	return &providers.StartQrResult{
		QrImage:   "data:image/png;base64,fake",
		Ref:       "ref-" + tenantID,
		ExpiresAt: time.Now().Add(time.Minute),
	}, nil
}

func (f *Fake) StartPhone(ctx context.Context, tenantID, phone string) (*providers.StartPhoneResult, error) {
	f.mu.Lock()
	f.phoneStarts++
	f.mu.Unlock()
	if f.StartPhoneFunc != nil {
		return f.StartPhoneFunc(ctx, tenantID, phone)
	}
	return &providers.StartPhoneResult{
		Ref:       "ref-" + phone,
		ExpiresAt: time.Now().Add(time.Minute),
	}, nil
}

func (f *Fake) CheckStatus(ctx context.Context, ref string) (*providers.StatusResult, error) {
	f.mu.Lock()
	f.checkCalls++
	f.mu.Unlock()
	if f.CheckStatusFunc != nil {
		return f.CheckStatusFunc(ctx, ref)
	}
	return &providers.StatusResult{Status: providers.AuthPending}, nil
}

func (f *Fake) VerifyCode(ctx context.Context, ref, code string) (*providers.VerifyResult, error) {
	if f.VerifyCodeFunc != nil {
		return f.VerifyCodeFunc(ctx, ref, code)
	}
	return &providers.VerifyResult{Status: providers.AuthAuthorized, ExternalID: "ext-1", DisplayName: "Fake User"}, nil
}

func (f *Fake) VerifyPassword(ctx context.Context, ref, password string) (*providers.VerifyResult, error) {
	if f.VerifyPasswordFunc != nil {
		return f.VerifyPasswordFunc(ctx, ref, password)
	}
	return &providers.VerifyResult{Status: providers.AuthAuthorized, ExternalID: "ext-1", DisplayName: "Fake User"}, nil
}

func (f *Fake) Cancel(_ context.Context, ref string) error {
	f.mu.Lock()
	f.cancelRefs = append(f.cancelRefs, ref)
	f.mu.Unlock()
	return nil
}

func (f *Fake) Logout(_ context.Context, tenantID, externalID string) error {
	f.mu.Lock()
	f.logoutRefs = append(f.logoutRefs, tenantID+"/"+externalID)
	f.mu.Unlock()
	return nil
}

// CheckCalls reports how many CheckStatus calls ran.
func (f *Fake) CheckCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkCalls
}

// CancelRefs returns the refs passed to Cancel.
func (f *Fake) CancelRefs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelRefs...)
}

// LogoutRefs returns the external ids passed to Logout.
func (f *Fake) LogoutRefs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.logoutRefs...)
}

// PhoneStarts reports how many StartPhone calls ran, resends included.
func (f *Fake) PhoneStarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phoneStarts
}
