// Package telegram links telegram personal accounts through the MTProto
// session-bridge sidecar. The bridge holds the MTProto client and its auth
// keys; this adapter only moves ceremony state back and forth. Both login
// paths exist: QR (exported login token rendered as a data URL) and phone
// (telegram sends the code to the user's other devices), with the optional
// cloud-password step after either.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/linkhub/internal/providers"
	"github.com/nextlevelbuilder/linkhub/internal/providers/bridge"
	"github.com/nextlevelbuilder/linkhub/internal/store"
)

// Adapter implements providers.Adapter over the telegram session bridge.
// The ceremony ref is the bridge-issued session handle.
type Adapter struct {
	client *bridge.Client
}

// New creates the telegram adapter.
func New(client *bridge.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Channel() store.ChannelType { return store.ChannelTelegram }

func (a *Adapter) Supports(store.AuthMethod) bool { return true }

type bridgeUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type startQrResp struct {
	Ref       string    `json:"ref"`
	QrDataURL string    `json:"qr_data_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type startPhoneResp struct {
	Ref       string    `json:"ref"`
	ExpiresAt time.Time `json:"expires_at"`
}

type statusResp struct {
	Status    string      `json:"status"`
	QrDataURL string      `json:"qr_data_url"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *bridgeUser `json:"user"`
}

func (a *Adapter) StartQr(ctx context.Context, tenantID string) (*providers.StartQrResult, error) {
	var resp startQrResp
	err := a.client.Post(ctx, "/qr/start", map[string]string{"tenant_id": tenantID}, &resp)
	if err != nil {
		return nil, classify(err)
	}
	return &providers.StartQrResult{
		QrImage:   resp.QrDataURL,
		ExpiresAt: resp.ExpiresAt,
		Ref:       resp.Ref,
	}, nil
}

func (a *Adapter) StartPhone(ctx context.Context, tenantID, phoneNumber string) (*providers.StartPhoneResult, error) {
	var resp startPhoneResp
	err := a.client.Post(ctx, "/phone/start", map[string]string{
		"tenant_id": tenantID,
		"phone":     phoneNumber,
	}, &resp)
	if err != nil {
		return nil, classify(err)
	}
	// Telegram dispatches the code itself; there is no pairing code to show.
	return &providers.StartPhoneResult{Ref: resp.Ref, ExpiresAt: resp.ExpiresAt}, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, ref string) (*providers.StatusResult, error) {
	var resp statusResp
	if err := a.client.Post(ctx, "/status", map[string]string{"ref": ref}, &resp); err != nil {
		return nil, classify(err)
	}
	return toStatus(&resp)
}

func (a *Adapter) VerifyCode(ctx context.Context, ref, code string) (*providers.VerifyResult, error) {
	var resp statusResp
	err := a.client.Post(ctx, "/code", map[string]string{"ref": ref, "code": code}, &resp)
	if err != nil {
		return nil, classify(err)
	}
	return toVerify(&resp)
}

func (a *Adapter) VerifyPassword(ctx context.Context, ref, password string) (*providers.VerifyResult, error) {
	var resp statusResp
	err := a.client.Post(ctx, "/password", map[string]string{"ref": ref, "password": password}, &resp)
	if err != nil {
		return nil, classify(err)
	}
	return toVerify(&resp)
}

func (a *Adapter) Cancel(ctx context.Context, ref string) error {
	err := a.client.Post(ctx, "/cancel", map[string]string{"ref": ref}, nil)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (a *Adapter) Logout(ctx context.Context, tenantID, externalID string) error {
	err := a.client.Post(ctx, "/logout", map[string]string{
		"tenant_id": tenantID,
		"user_id":   externalID,
	}, nil)
	if err != nil {
		return classify(err)
	}
	return nil
}

func toStatus(resp *statusResp) (*providers.StatusResult, error) {
	switch resp.Status {
	case "pending":
		return &providers.StatusResult{
			Status:    providers.AuthPending,
			QrImage:   resp.QrDataURL,
			ExpiresAt: resp.ExpiresAt,
		}, nil
	case "needs_2fa":
		return &providers.StatusResult{Status: providers.AuthNeedsPassword}, nil
	case "authorized":
		if resp.User == nil {
			return nil, providers.Transient(errors.New("bridge authorized without a user"))
		}
		return &providers.StatusResult{
			Status:      providers.AuthAuthorized,
			ExternalID:  resp.User.ID,
			DisplayName: resp.User.Name,
			PhoneNumber: resp.User.Phone,
		}, nil
	case "expired":
		return &providers.StatusResult{Status: providers.AuthExpired}, nil
	default:
		return nil, providers.Transient(fmt.Errorf("bridge reports unknown status %q", resp.Status))
	}
}

func toVerify(resp *statusResp) (*providers.VerifyResult, error) {
	st, err := toStatus(resp)
	if err != nil {
		return nil, err
	}
	return &providers.VerifyResult{
		Status:      st.Status,
		ExternalID:  st.ExternalID,
		DisplayName: st.DisplayName,
		PhoneNumber: st.PhoneNumber,
	}, nil
}

// classify maps bridge 4xx responses onto the adapter error vocabulary:
// 422 means telegram refused the submitted input (wrong code, wrong
// password, flood-limited phone) and the ceremony survives; any other 4xx
// means the bridge no longer knows the ceremony.
func classify(err error) error {
	var serr *bridge.StatusError
	if !errors.As(err, &serr) {
		return err
	}
	if serr.Code == http.StatusUnprocessableEntity {
		return providers.Rejected(serr.Message)
	}
	return fmt.Errorf("%w: %s", providers.ErrSessionDead, serr.Message)
}
