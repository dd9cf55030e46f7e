// Package bridge is a thin JSON client for provider sidecar services. The
// telegram and max ceremonies run in dedicated bridge processes (MTProto and
// a browser session respectively); this client wraps the round trips and
// classifies failures so adapters stay declarative.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/linkhub/internal/providers"
)

const defaultTimeout = 30 * time.Second

// Client talks to one bridge service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Config configures a bridge client.
type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
}

// New creates a bridge client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Post sends a JSON body to path and decodes the JSON response into out.
// Transport failures and 5xx responses come back wrapped in ErrTransient;
// 4xx responses are returned as *StatusError for the adapter to classify.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal bridge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return providers.Transient(fmt.Errorf("bridge %s: %w", path, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.Transient(fmt.Errorf("read bridge response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return providers.Transient(fmt.Errorf("bridge %s: status %d: %s", path, resp.StatusCode, raw))
	}
	if resp.StatusCode >= 400 {
		serr := &StatusError{Code: resp.StatusCode}
		if err := json.Unmarshal(raw, serr); err != nil || serr.Message == "" {
			serr.Message = string(raw)
		}
		return serr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode bridge response: %w", err)
		}
	}
	return nil
}

// StatusError is a 4xx bridge response.
type StatusError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bridge error %d: %s", e.Code, e.Message)
}
