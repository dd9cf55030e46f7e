package cmd

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const linkPollEvery = 2 * time.Second

type startResponse struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Payload   string    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
	Connected bool      `json:"connected"`
	AccountID string    `json:"account_id"`
}

type checkResponse struct {
	Status    string `json:"status"`
	Payload   string `json:"payload"`
	AccountID string `json:"account_id"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

func linkCmd() *cobra.Command {
	var (
		tenant  string
		channel string
		method  string
		phone   string
	)

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link a personal messaging account interactively",
		Long: `Walks through the pairing ceremony against a running linkhub server:
pick a channel and method, scan the QR code or type the one-time code, and
the account lands in the tenant's workspace.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLink(tenant, channel, method, phone)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant workspace id")
	cmd.Flags().StringVar(&channel, "channel", "", "channel: telegram, whatsapp or max")
	cmd.Flags().StringVar(&method, "method", "", "auth method: qr or phone")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number in international format (phone method)")
	return cmd
}

func runLink(tenant, channel, method, phone string) error {
	var err error

	if channel == "" {
		channel, err = promptSelect("Channel", []SelectOption[string]{
			{Label: "Telegram", Value: "telegram"},
			{Label: "WhatsApp", Value: "whatsapp"},
			{Label: "Max", Value: "max"},
		}, 0)
		if err != nil {
			return err
		}
	}

	// Max only pairs over QR; asking would be noise.
	if method == "" && channel == "max" {
		method = "qr"
	}
	if method == "" {
		method, err = promptSelect("Auth method", []SelectOption[string]{
			{Label: "QR code scan", Value: "qr"},
			{Label: "Phone number + one-time code", Value: "phone"},
		}, 0)
		if err != nil {
			return err
		}
	}

	if tenant == "" {
		tenant, err = promptString("Tenant", "Workspace the account will be linked to", "")
		if err != nil {
			return err
		}
	}
	if method == "phone" && phone == "" {
		phone, err = promptString("Phone number", "International format, e.g. +79991234567", "")
		if err != nil {
			return err
		}
	}

	var start startResponse
	err = apiPost("/v1/link/start", map[string]string{
		"tenant_id":    tenant,
		"channel":      channel,
		"method":       method,
		"phone_number": phone,
	}, &start)
	if err != nil {
		return err
	}

	if start.Connected {
		fmt.Printf("Already linked: %s is an active %s account (id %s)\n", phone, channel, start.AccountID)
		return nil
	}

	fmt.Printf("Session %s started (%s)\n", start.SessionID, start.Status)

	// Ctrl+C cancels the session server-side so the slot does not stay
	// occupied until the TTL fires.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	go func() {
		<-interrupt
		_ = apiPost("/v1/link/"+start.SessionID+"/cancel", nil, nil)
		fmt.Fprintln(os.Stderr, "\nCancelled.")
		os.Exit(1)
	}()

	return followSession(start.SessionID, channel, start.Payload)
}

// followSession polls the session until it reaches a terminal status,
// prompting for codes and passwords along the way.
func followSession(sessionID, channel, payload string) error {
	shownPayload := ""
	if payload != "" {
		showPayload(sessionID, channel, payload)
		shownPayload = payload
	}

	for {
		var res checkResponse
		err := apiGet("/v1/link/"+sessionID, &res)
		if err != nil {
			var ae *apiError
			// 410/404 carry the terminal state in the body; anything else is fatal.
			if !errors.As(err, &ae) || res.Status == "" {
				return err
			}
		}

		switch res.Status {
		case "authorized":
			fmt.Printf("Linked. Account id: %s\n", res.AccountID)
			return nil

		case "expired":
			return fmt.Errorf("session expired, start over")
		case "cancelled":
			return fmt.Errorf("session was cancelled")
		case "error":
			if res.Error != "" {
				return fmt.Errorf("linking failed: %s", res.Error)
			}
			return fmt.Errorf("linking failed")

		case "awaiting_slot":
			fmt.Println("Account limit reached; waiting for a slot to free up (disable or delete another account)...")

		case "awaiting_phone_code":
			if err := submitCode(sessionID); err != nil {
				return err
			}
			continue

		case "needs_password":
			if err := submitPassword(sessionID); err != nil {
				return err
			}
			continue

		default:
			// qr_pending, awaiting_qr_scan, phone_input: show rotated QR codes.
			if res.Payload != "" && res.Payload != shownPayload {
				showPayload(sessionID, channel, res.Payload)
				shownPayload = res.Payload
			}
		}

		time.Sleep(linkPollEvery)
	}
}

func submitCode(sessionID string) error {
	for {
		code, err := promptString("One-time code", "Sent to your device; leave empty to resend", "")
		if err != nil {
			return err
		}
		if code == "" {
			if err := apiPost("/v1/link/"+sessionID+"/resend", nil, nil); err != nil {
				fmt.Fprintln(os.Stderr, err)
			} else {
				fmt.Println("Code resent.")
			}
			continue
		}

		var res checkResponse
		err = apiPost("/v1/link/"+sessionID+"/verify-code", map[string]string{"code": code}, &res)
		if err != nil {
			var ae *apiError
			if errors.As(err, &ae) && ae.Status == 422 {
				fmt.Fprintf(os.Stderr, "Rejected: %s\n", ae.Message)
				continue
			}
			return err
		}
		return nil
	}
}

func submitPassword(sessionID string) error {
	for {
		password, err := promptPassword("Two-factor password", "The account's cloud password")
		if err != nil {
			return err
		}

		var res checkResponse
		err = apiPost("/v1/link/"+sessionID+"/verify-password", map[string]string{"password": password}, &res)
		if err != nil {
			var ae *apiError
			if errors.As(err, &ae) && ae.Status == 422 {
				fmt.Fprintf(os.Stderr, "Rejected: %s\n", ae.Message)
				continue
			}
			return err
		}
		return nil
	}
}

// showPayload renders the session payload: QR data URLs become a PNG on disk,
// pairing codes print as-is.
func showPayload(sessionID, channel, payload string) {
	if !strings.HasPrefix(payload, "data:image/") {
		fmt.Printf("Pairing code: %s\n", payload)
		fmt.Println("Enter it on your phone under Linked Devices.")
		return
	}

	_, b64, ok := strings.Cut(payload, ";base64,")
	if !ok {
		fmt.Println("QR payload:", payload)
		return
	}
	png, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad QR payload:", err)
		return
	}

	path := filepath.Join(os.TempDir(), "linkhub-qr-"+sessionID+".png")
	if err := os.WriteFile(path, png, 0o600); err != nil {
		fmt.Fprintln(os.Stderr, "write QR image:", err)
		return
	}
	fmt.Printf("Scan the QR code with the %s app on your phone: %s\n", channel, path)
}
