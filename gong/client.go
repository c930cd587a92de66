package gong

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned when credentials are missing.
var ErrNotConfigured = errors.New("gong: API credentials not configured")

// APIError is a non-2xx response from the Gong API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gong: API returned status %d: %s", e.StatusCode, e.Message)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL   string
	AccessKey string
	SecretKey string

	// Timeout bounds each request (default: 30s). Ignored when HTTPClient is set.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client fetches call data from the Gong API.
type Client struct {
	baseURL   string
	accessKey string
	secretKey string
	http      *http.Client
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		http:      httpClient,
	}
}

// FetchTranscript returns the transcript of one call.
func (c *Client) FetchTranscript(ctx context.Context, callID string) (TranscriptResponse, error) {
	if c.accessKey == "" || c.secretKey == "" {
		return TranscriptResponse{}, ErrNotConfigured
	}

	body, err := json.Marshal(map[string]any{
		"filter": map[string]any{"callIds": []string{callID}},
	})
	if err != nil {
		return TranscriptResponse{}, fmt.Errorf("gong: encode transcript request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/calls/transcript", bytes.NewReader(body))
	if err != nil {
		return TranscriptResponse{}, fmt.Errorf("gong: build request: %w", err)
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.accessKey + ":" + c.secretKey))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return TranscriptResponse{}, fmt.Errorf("gong: fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return TranscriptResponse{}, fmt.Errorf("gong: read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		message := strings.TrimSpace(string(respBody))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return TranscriptResponse{}, &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	var out TranscriptResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return TranscriptResponse{}, fmt.Errorf("gong: decode transcript: %w", err)
	}
	return out, nil
}
