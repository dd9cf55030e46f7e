// Package maxchat links max personal accounts through the browser-bridge
// sidecar. The bridge drives a headless web.max.ru session, screenshots the
// login QR, and watches the page until the account is authorized. max has no
// code login, so this adapter is QR-only.
package maxchat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/linkhub/internal/providers"
	"github.com/nextlevelbuilder/linkhub/internal/providers/bridge"
	"github.com/nextlevelbuilder/linkhub/internal/store"
)

// qrLifetime is how long one bridge QR screenshot stays scannable. The bridge
// refreshes its screenshot continuously, so the deadline rolls forward on
// every status poll that carries a payload.
const qrLifetime = 2 * time.Minute

// Adapter implements providers.Adapter over the max browser bridge. The
// bridge keys its sessions per tenant, so the ceremony ref is the tenant id.
type Adapter struct {
	client *bridge.Client
}

// New creates the max adapter.
func New(client *bridge.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Channel() store.ChannelType { return store.ChannelMax }

func (a *Adapter) Supports(m store.AuthMethod) bool { return m == store.MethodQR }

type tenantReq struct {
	TenantID string `json:"tenant_id"`
}

type bridgeUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type startResp struct {
	Success   bool        `json:"success"`
	Status    string      `json:"status"`
	QrDataURL string      `json:"qr_data_url"`
	Error     string      `json:"error"`
	User      *bridgeUser `json:"user"`
}

type checkResp struct {
	Status    string      `json:"status"`
	Connected bool        `json:"connected"`
	QrDataURL string      `json:"qr_data_url"`
	User      *bridgeUser `json:"user"`
	Error     string      `json:"error"`
}

func (a *Adapter) StartQr(ctx context.Context, tenantID string) (*providers.StartQrResult, error) {
	var resp startResp
	if err := a.client.Post(ctx, "/start-auth", tenantReq{TenantID: tenantID}, &resp); err != nil {
		return nil, classify(err)
	}
	if !resp.Success || resp.QrDataURL == "" {
		return nil, providers.Transient(fmt.Errorf("bridge gave no qr: %s", resp.Error))
	}
	return &providers.StartQrResult{
		QrImage:   resp.QrDataURL,
		ExpiresAt: time.Now().Add(qrLifetime),
		Ref:       tenantID,
	}, nil
}

func (a *Adapter) StartPhone(context.Context, string, string) (*providers.StartPhoneResult, error) {
	return nil, fmt.Errorf("%w: max offers no phone login", providers.ErrMethodNotSupported)
}

func (a *Adapter) CheckStatus(ctx context.Context, ref string) (*providers.StatusResult, error) {
	var resp checkResp
	if err := a.client.Post(ctx, "/check-auth", tenantReq{TenantID: ref}, &resp); err != nil {
		return nil, classify(err)
	}

	switch resp.Status {
	case "connected":
		res := &providers.StatusResult{Status: providers.AuthAuthorized}
		if resp.User != nil {
			res.ExternalID = resp.User.ID
			res.DisplayName = resp.User.Name
			res.PhoneNumber = resp.User.Phone
		}
		if res.ExternalID == "" {
			// Bridge reported connected before the profile page loaded.
			return &providers.StatusResult{Status: providers.AuthPending}, nil
		}
		return res, nil

	case "qr_ready", "connecting":
		res := &providers.StatusResult{Status: providers.AuthPending}
		if resp.QrDataURL != "" {
			res.QrImage = resp.QrDataURL
			res.ExpiresAt = time.Now().Add(qrLifetime)
		}
		return res, nil

	case "disconnected", "error":
		return nil, fmt.Errorf("%w: bridge reports %s: %s", providers.ErrSessionDead, resp.Status, resp.Error)

	default:
		return nil, providers.Transient(fmt.Errorf("bridge reports unknown status %q", resp.Status))
	}
}

func (a *Adapter) VerifyCode(context.Context, string, string) (*providers.VerifyResult, error) {
	return nil, fmt.Errorf("%w: max offers no phone login", providers.ErrMethodNotSupported)
}

func (a *Adapter) VerifyPassword(context.Context, string, string) (*providers.VerifyResult, error) {
	return nil, fmt.Errorf("%w: max offers no 2fa step", providers.ErrMethodNotSupported)
}

// Cancel tears down the bridge browser session. The bridge's logout endpoint
// does double duty for abandoning an unfinished ceremony.
func (a *Adapter) Cancel(ctx context.Context, ref string) error {
	if err := a.client.Post(ctx, "/logout", tenantReq{TenantID: ref}, nil); err != nil {
		return classify(err)
	}
	return nil
}

func (a *Adapter) Logout(ctx context.Context, tenantID, _ string) error {
	if err := a.client.Post(ctx, "/logout", tenantReq{TenantID: tenantID}, nil); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps bridge 4xx responses onto the adapter error vocabulary.
// Everything the bridge actively refuses means the ceremony is gone — the
// bridge has no rejected-but-retryable states.
func classify(err error) error {
	var serr *bridge.StatusError
	if errors.As(err, &serr) {
		return fmt.Errorf("%w: %s", providers.ErrSessionDead, serr.Message)
	}
	return err
}
