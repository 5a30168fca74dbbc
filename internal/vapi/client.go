package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrDispatch means the platform rejected the call request (bad workflow id,
// rate limit, invalid phone number). No CallAttempt may be recorded for a
// rejected dispatch.
var ErrDispatch = errors.New("vapi: call dispatch rejected")

// Client initiates outbound calls on the voice-agent platform.
//
// Dispatch is synchronous request/accept only: the platform performs the
// call out-of-band and reports the outcome later through the webhook
// surface. There is no blocking wait for a call result here.
type Client struct {
	hc         *http.Client
	baseURL    string
	apiKey     string
	workflowID string
	webhookURL string
	log        *slog.Logger

	maxAttempts int
	backoffBase time.Duration
	sleep       func(time.Duration)
}

type ClientConfig struct {
	APIKey     string
	WorkflowID string

	// WebhookURL is where the platform delivers end-of-call reports,
	// typically BASE_URL + "/webhooks/vapi".
	WebhookURL string

	// BaseURL overrides the API root (tests).
	BaseURL string

	HTTPClient  *http.Client
	Logger      *slog.Logger
	MaxAttempts int
	BackoffBase time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		hc:          cfg.HTTPClient,
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		workflowID:  cfg.WorkflowID,
		webhookURL:  cfg.WebhookURL,
		log:         cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		sleep:       time.Sleep,
	}
	if c.hc == nil {
		// Call dispatch is allowed more headroom than CRM calls.
		c.hc = &http.Client{Timeout: 30 * time.Second}
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.vapi.ai"
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}
	if c.backoffBase <= 0 {
		c.backoffBase = 500 * time.Millisecond
	}
	return c
}

// CallRequest identifies the lead to dial. LeadID rides along in call
// metadata and comes back on the end-of-call report.
type CallRequest struct {
	To       string
	LeadID   string
	LeadName string
}

type dispatchPayload struct {
	WorkflowID string            `json:"workflow_id"`
	To         string            `json:"to"`
	Metadata   map[string]string `json:"metadata"`
	WebhookURL string            `json:"webhook_url,omitempty"`
}

type dispatchResponse struct {
	ID string `json:"id"`
}

// InitiateCall asks the platform to start an outbound workflow call and
// returns the platform-assigned call id. Transient failures are retried
// with backoff; rejection surfaces as ErrDispatch.
func (c *Client) InitiateCall(ctx context.Context, req CallRequest) (string, error) {
	if req.To == "" || req.LeadID == "" {
		return "", fmt.Errorf("destination and lead id required: %w", ErrDispatch)
	}

	payload := dispatchPayload{
		WorkflowID: c.workflowID,
		To:         req.To,
		Metadata:   map[string]string{"lead_id": req.LeadID, "name": req.LeadName},
		WebhookURL: c.webhookURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("vapi: encode dispatch: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(c.backoffBase << (attempt - 1))
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/calls", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("vapi: build request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.hc.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			c.log.Warn("call dispatch request failed", "lead_id", req.LeadID, "attempt", attempt+1, "err", err)
			continue
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var out dispatchResponse
			if err := json.Unmarshal(respBody, &out); err != nil || out.ID == "" {
				return "", fmt.Errorf("dispatch accepted without call id: %w", ErrDispatch)
			}
			return out.ID, nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			c.log.Warn("call dispatch transient error", "lead_id", req.LeadID, "status", resp.StatusCode, "attempt", attempt+1)
			continue

		default:
			return "", fmt.Errorf("dispatch returned %d: %s: %w", resp.StatusCode, truncate(respBody, 200), ErrDispatch)
		}
	}

	return "", fmt.Errorf("dispatch failed after %d attempts (%v): %w", c.maxAttempts, lastErr, ErrDispatch)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
