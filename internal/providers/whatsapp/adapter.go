// Package whatsapp links whatsapp personal accounts natively over the
// multidevice protocol. Unlike telegram and max there is no sidecar: the
// whatsmeow client runs in-process and its device store lives in a local
// sqlite database, so a linked account reconnects by itself after a restart.
//
// Ceremony shape: the QR path streams rotating codes from the protocol and
// renders them as PNG data URLs; the phone path shows the user a pairing code
// to type into their phone. Neither path submits anything back through the
// orchestrator, so VerifyCode/VerifyPassword are not offered — authorization
// is always observed by the status poll.
package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/linkhub/internal/providers"
	"github.com/nextlevelbuilder/linkhub/internal/store"
)

const (
	// qrStartWait bounds the wait for the first QR code after connect.
	qrStartWait = 15 * time.Second
	// pairingCodeLifetime is protocol-fixed: a pairing code is valid for
	// about three minutes on the phone side.
	pairingCodeLifetime = 3 * time.Minute
	qrImageSize         = 256
)

// Adapter implements providers.Adapter natively via whatsmeow.
type Adapter struct {
	container *sqlstore.Container
	sink      providers.ConnectionSink
	log       waLog.Logger

	mu         sync.Mutex
	ceremonies map[string]*ceremony
	linked     map[string]*linkedClient // key: external id (jid user)
}

// linkedClient is a fully paired, connected client for one account.
type linkedClient struct {
	tenantID string
	client   *whatsmeow.Client
}

// ceremony is one in-flight pairing attempt. It lives in memory only: a
// process restart loses it and the status poll reports the ceremony dead,
// which sends the caller back to startAuth.
type ceremony struct {
	mu       sync.Mutex
	tenantID string
	client   *whatsmeow.Client
	cancel   context.CancelFunc

	status      providers.AuthStatus
	qrImage     string
	pairingCode string
	expiresAt   time.Time
	externalID  string
	displayName string
	phoneNumber string
}

// Open creates the adapter with its sqlite-backed device store at dbPath.
// sink receives connection flips for linked accounts.
func Open(ctx context.Context, dbPath string, sink providers.ConnectionSink) (*Adapter, error) {
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open whatsapp device store: %w", err)
	}
	return &Adapter{
		container:  container,
		sink:       sink,
		log:        waLog.Noop,
		ceremonies: make(map[string]*ceremony),
		linked:     make(map[string]*linkedClient),
	}, nil
}

func (a *Adapter) Channel() store.ChannelType { return store.ChannelWhatsApp }

func (a *Adapter) Supports(m store.AuthMethod) bool {
	return m == store.MethodQR || m == store.MethodPhone
}

// Resume reconnects the stored devices of the given active accounts. Devices
// without a matching account are stale (revoked while we were down) and get
// deleted.
func (a *Adapter) Resume(ctx context.Context, accts []store.Account) error {
	devices, err := a.container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("list whatsapp devices: %w", err)
	}

	byExternalID := make(map[string]store.Account, len(accts))
	for _, acct := range accts {
		byExternalID[acct.ExternalID] = acct
	}

	for _, device := range devices {
		if device.ID == nil {
			continue
		}
		acct, ok := byExternalID[device.ID.User]
		if !ok {
			slog.Info("dropping stale whatsapp device", "jid", device.ID)
			if err := a.container.DeleteDevice(ctx, device); err != nil {
				slog.Warn("stale device delete failed", "jid", device.ID, "error", err)
			}
			continue
		}
		a.adopt(acct.TenantID, whatsmeow.NewClient(device, a.log))
	}
	return nil
}

func (a *Adapter) StartQr(ctx context.Context, tenantID string) (*providers.StartQrResult, error) {
	client := whatsmeow.NewClient(a.container.NewDevice(), a.log)
	cctx, cancel := context.WithCancel(context.Background())

	qrChan, err := client.GetQRChannel(cctx)
	if err != nil {
		cancel()
		return nil, providers.Transient(fmt.Errorf("qr channel: %w", err))
	}
	if err := client.Connect(); err != nil {
		cancel()
		return nil, providers.Transient(fmt.Errorf("whatsapp connect: %w", err))
	}

	c := &ceremony{
		tenantID: tenantID,
		client:   client,
		cancel:   cancel,
		status:   providers.AuthPending,
	}

	// The first code arrives right after connect; wait for it so startAuth can
	// return a scannable payload.
	select {
	case evt, ok := <-qrChan:
		if !ok || evt.Event != whatsmeow.QRChannelEventCode {
			c.teardown()
			return nil, providers.Transient(fmt.Errorf("no initial qr code (event %q)", evt.Event))
		}
		if err := c.applyQr(evt); err != nil {
			c.teardown()
			return nil, err
		}
	case <-time.After(qrStartWait):
		c.teardown()
		return nil, providers.Transient(fmt.Errorf("timed out waiting for initial qr"))
	case <-ctx.Done():
		c.teardown()
		return nil, ctx.Err()
	}

	go c.consumeQr(qrChan)

	ref := store.GenNewID().String()
	a.mu.Lock()
	a.ceremonies[ref] = c
	a.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	return &providers.StartQrResult{QrImage: c.qrImage, ExpiresAt: c.expiresAt, Ref: ref}, nil
}

func (a *Adapter) StartPhone(ctx context.Context, tenantID, phoneNumber string) (*providers.StartPhoneResult, error) {
	client := whatsmeow.NewClient(a.container.NewDevice(), a.log)
	cctx, cancel := context.WithCancel(context.Background())

	if err := client.Connect(); err != nil {
		cancel()
		return nil, providers.Transient(fmt.Errorf("whatsapp connect: %w", err))
	}

	code, err := client.PairPhone(cctx, phoneNumber, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		cancel()
		client.Disconnect()
		return nil, providers.Transient(fmt.Errorf("pair phone: %w", err))
	}

	c := &ceremony{
		tenantID:    tenantID,
		client:      client,
		cancel:      cancel,
		status:      providers.AuthPending,
		pairingCode: code,
		expiresAt:   time.Now().Add(pairingCodeLifetime),
		phoneNumber: phoneNumber,
	}
	client.AddEventHandler(c.pairEventHandler)

	ref := store.GenNewID().String()
	a.mu.Lock()
	a.ceremonies[ref] = c
	a.mu.Unlock()

	return &providers.StartPhoneResult{Ref: ref, PairingCode: code, ExpiresAt: c.expiresAt}, nil
}

func (a *Adapter) CheckStatus(_ context.Context, ref string) (*providers.StatusResult, error) {
	a.mu.Lock()
	c, ok := a.ceremonies[ref]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown ceremony", providers.ErrSessionDead)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case providers.AuthAuthorized:
		a.promote(ref, c)
		return &providers.StatusResult{
			Status:      providers.AuthAuthorized,
			ExternalID:  c.externalID,
			DisplayName: c.displayName,
			PhoneNumber: c.phoneNumber,
		}, nil
	case providers.AuthExpired:
		return &providers.StatusResult{Status: providers.AuthExpired}, nil
	default:
		return &providers.StatusResult{
			Status:    providers.AuthPending,
			QrImage:   c.qrImage,
			ExpiresAt: c.expiresAt,
		}, nil
	}
}

// VerifyCode is not part of the whatsapp ceremony: the pairing code travels
// the other way (the user types it into their phone).
func (a *Adapter) VerifyCode(context.Context, string, string) (*providers.VerifyResult, error) {
	return nil, fmt.Errorf("%w: whatsapp pairing has no code submission", providers.ErrMethodNotSupported)
}

func (a *Adapter) VerifyPassword(context.Context, string, string) (*providers.VerifyResult, error) {
	return nil, fmt.Errorf("%w: whatsapp pairing has no password step", providers.ErrMethodNotSupported)
}

func (a *Adapter) Cancel(_ context.Context, ref string) error {
	a.mu.Lock()
	c, ok := a.ceremonies[ref]
	delete(a.ceremonies, ref)
	a.mu.Unlock()
	if ok {
		c.teardown()
	}
	return nil
}

// Logout unpairs a linked account and deletes its device row.
func (a *Adapter) Logout(ctx context.Context, _, externalID string) error {
	a.mu.Lock()
	lc, ok := a.linked[externalID]
	delete(a.linked, externalID)
	a.mu.Unlock()

	if ok {
		if err := lc.client.Logout(ctx); err != nil {
			lc.client.Disconnect()
			return providers.Transient(fmt.Errorf("whatsapp logout: %w", err))
		}
		return nil
	}

	// Not connected right now: delete the stored device directly.
	devices, err := a.container.GetAllDevices(ctx)
	if err != nil {
		return providers.Transient(err)
	}
	for _, device := range devices {
		if device.ID != nil && device.ID.User == externalID {
			return a.container.DeleteDevice(ctx, device)
		}
	}
	return nil
}

// Close disconnects everything. Ceremonies die (restart sends callers back to
// startAuth); linked devices reconnect on Resume.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for ref, c := range a.ceremonies {
		c.teardown()
		delete(a.ceremonies, ref)
	}
	for id, lc := range a.linked {
		lc.client.Disconnect()
		delete(a.linked, id)
	}
}

// promote moves an authorized ceremony's client into the linked set so its
// connection events start flowing. Caller holds c.mu.
func (a *Adapter) promote(ref string, c *ceremony) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, still := a.ceremonies[ref]; !still {
		return
	}
	delete(a.ceremonies, ref)
	c.cancel()
	a.adoptLocked(c.tenantID, c.client, c.externalID)
}

// adopt registers a connected client for a linked account.
func (a *Adapter) adopt(tenantID string, client *whatsmeow.Client) {
	a.mu.Lock()
	externalID := ""
	if client.Store.ID != nil {
		externalID = client.Store.ID.User
	}
	a.adoptLocked(tenantID, client, externalID)
	a.mu.Unlock()

	if err := client.Connect(); err != nil {
		slog.Warn("whatsapp reconnect failed", "tenant", tenantID, "error", err)
	}
}

// adoptLocked must be called with a.mu held.
func (a *Adapter) adoptLocked(tenantID string, client *whatsmeow.Client, externalID string) {
	if externalID == "" {
		return
	}
	a.linked[externalID] = &linkedClient{tenantID: tenantID, client: client}
	client.AddEventHandler(func(evt any) {
		a.connectionEvent(tenantID, externalID, evt)
	})
}

func (a *Adapter) connectionEvent(tenantID, externalID string, evt any) {
	switch evt.(type) {
	case *events.Connected:
		a.sink.AccountConnection(context.Background(), tenantID, store.ChannelWhatsApp, externalID, true)
	case *events.Disconnected:
		a.sink.AccountConnection(context.Background(), tenantID, store.ChannelWhatsApp, externalID, false)
	case *events.LoggedOut:
		slog.Info("whatsapp device logged out remotely", "tenant", tenantID, "external_id", externalID)
		a.mu.Lock()
		delete(a.linked, externalID)
		a.mu.Unlock()
		a.sink.AccountConnection(context.Background(), tenantID, store.ChannelWhatsApp, externalID, false)
	}
}

// --- ceremony ---

// consumeQr follows the QR channel: rotated codes update the payload,
// success flips the ceremony to authorized, timeout expires it.
func (c *ceremony) consumeQr(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		c.mu.Lock()
		switch evt.Event {
		case whatsmeow.QRChannelEventCode:
			if err := c.applyQr(evt); err != nil {
				slog.Warn("qr render failed", "error", err)
			}
		case whatsmeow.QRChannelSuccess.Event:
			c.markAuthorized()
		case whatsmeow.QRChannelTimeout.Event:
			c.status = providers.AuthExpired
		default:
			slog.Debug("qr channel event", "event", evt.Event)
		}
		c.mu.Unlock()
	}
}

// pairEventHandler watches a phone-path ceremony for the pairing to land.
func (c *ceremony) pairEventHandler(evt any) {
	switch evt.(type) {
	case *events.PairSuccess, *events.Connected:
		c.mu.Lock()
		c.markAuthorized()
		c.mu.Unlock()
	}
}

// markAuthorized captures the identity off the paired device store. Caller
// holds c.mu.
func (c *ceremony) markAuthorized() {
	if c.status == providers.AuthAuthorized {
		return
	}
	id := c.client.Store.ID
	if id == nil {
		return // pair event raced the store write; next poll sees it
	}
	c.status = providers.AuthAuthorized
	c.externalID = id.User
	c.displayName = c.client.Store.PushName
	c.phoneNumber = "+" + id.User
}

// applyQr renders one QR code into a PNG data URL. Caller holds c.mu.
func (c *ceremony) applyQr(evt whatsmeow.QRChannelItem) error {
	png, err := qrcode.Encode(evt.Code, qrcode.Medium, qrImageSize)
	if err != nil {
		return fmt.Errorf("encode qr: %w", err)
	}
	c.qrImage = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	c.expiresAt = time.Now().Add(evt.Timeout)
	return nil
}

func (c *ceremony) teardown() {
	c.cancel()
	c.client.Disconnect()
}

var _ providers.Adapter = (*Adapter)(nil)
