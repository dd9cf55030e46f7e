package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiError is a non-2xx answer from the server, with the decoded error body.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server: %s (HTTP %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("server: HTTP %d", e.Status)
}

var apiHTTP = &http.Client{Timeout: 30 * time.Second}

// apiCall sends a JSON request to the running server and decodes the JSON
// answer into out. body and out may be nil.
func apiCall(method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, strings.TrimSuffix(flagServer, "/")+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if flagToken != "" {
		req.Header.Set("Authorization", "Bearer "+flagToken)
	}

	resp, err := apiHTTP.Do(req)
	if err != nil {
		return fmt.Errorf("connect to %s: %w (is the server running? try: linkhub serve)", flagServer, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Link endpoints answer 4xx with the session state in the body;
		// surface it to the caller alongside the error.
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		var eb struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &eb)
		return &apiError{Status: resp.StatusCode, Message: eb.Error}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func apiGet(path string, out any) error {
	return apiCall(http.MethodGet, path, nil, out)
}

func apiPost(path string, body, out any) error {
	return apiCall(http.MethodPost, path, body, out)
}
