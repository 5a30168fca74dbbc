package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// ErrConflict is returned by UpdateContactStatus when the optimistic
// expected-prior-status guard does not match. Callers should re-read the
// contact and decide, not retry blindly.
var ErrConflict = errors.New("hubspot: lead status changed concurrently")

// APIError is a non-retryable 4xx from the HubSpot API.
type APIError struct {
	StatusCode int
	Category   string
	Body       string
}

func (e *APIError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("hubspot: api error %d (%s)", e.StatusCode, e.Category)
	}
	return fmt.Sprintf("hubspot: api error %d", e.StatusCode)
}

// Client performs typed operations against the HubSpot CRM API.
//
// All mutating operations write absolute target values, so a retried or
// redelivered update is a no-op in effect. Transient failures (network,
// timeout, 429, 5xx) are retried with bounded exponential backoff; a 401
// triggers exactly one token refresh and one retry.
type Client struct {
	hc      *http.Client
	baseURL string
	tokens  *TokenManager
	log     *slog.Logger

	summaryProperty string

	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	sleep       func(time.Duration)
	clock       func() time.Time
}

type ClientConfig struct {
	Tokens *TokenManager

	// BaseURL overrides the API root (tests).
	BaseURL string

	// SummaryProperty is the contact property summaries are written to.
	SummaryProperty string

	HTTPClient  *http.Client
	Logger      *slog.Logger
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		hc:              cfg.HTTPClient,
		baseURL:         cfg.BaseURL,
		tokens:          cfg.Tokens,
		log:             cfg.Logger,
		summaryProperty: cfg.SummaryProperty,
		maxAttempts:     cfg.MaxAttempts,
		backoffBase:     cfg.BackoffBase,
		backoffCap:      cfg.BackoffCap,
		sleep:           time.Sleep,
		clock:           time.Now,
	}
	if c.hc == nil {
		c.hc = &http.Client{Timeout: 10 * time.Second}
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.hubapi.com"
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.summaryProperty == "" {
		c.summaryProperty = "contact_summary"
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 5
	}
	if c.backoffBase <= 0 {
		c.backoffBase = 200 * time.Millisecond
	}
	if c.backoffCap <= 0 {
		c.backoffCap = 3 * time.Second
	}
	return c
}

// GetContact fetches a contact by id (CRM v3).
func (c *Client) GetContact(ctx context.Context, id string) (Contact, error) {
	var out Contact
	path := "/crm/v3/objects/contacts/" + id + "?properties=firstname,lastname,phone,hs_lead_status"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Contact{}, err
	}
	return out, nil
}

// UpdateContactStatus patches hs_lead_status to an absolute value.
//
// When expectedPrior is non-empty the current status is read first and the
// write is refused with ErrConflict on mismatch, so an update raced by an
// unrelated change does not clobber it.
func (c *Client) UpdateContactStatus(ctx context.Context, id, status, expectedPrior string) error {
	if expectedPrior != "" {
		cur, err := c.GetContact(ctx, id)
		if err != nil {
			return err
		}
		if cur.Properties.LeadStatus != expectedPrior {
			return fmt.Errorf("contact %s has status %q, expected %q: %w", id, cur.Properties.LeadStatus, expectedPrior, ErrConflict)
		}
	}
	patch := contactPatch{Properties: map[string]string{"hs_lead_status": status}}
	return c.do(ctx, http.MethodPatch, "/crm/v3/objects/contacts/"+id, patch, nil)
}

// WriteSummaryProperty writes the call summary to the configured contact
// property.
func (c *Client) WriteSummaryProperty(ctx context.Context, id, text string) error {
	patch := contactPatch{Properties: map[string]string{c.summaryProperty: text}}
	return c.do(ctx, http.MethodPatch, "/crm/v3/objects/contacts/"+id, patch, nil)
}

// AppendEngagement creates a "logged call" card on the contact timeline
// (engagements v1) and returns the engagement id.
func (c *Client) AppendEngagement(ctx context.Context, contactID string, e Engagement) (string, error) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = c.clock()
	}
	status := e.Status
	if status == "" {
		status = EngagementStatusCompleted
	}
	payload := engagementPayload{
		Engagement: engagementHeader{
			Active:    true,
			Type:      "CALL",
			Timestamp: ts.UnixMilli(),
		},
		Associations: engagementAssoc{ContactIDs: []string{contactID}},
		Metadata: engagementMetadata{
			Body:       e.Body,
			Status:     status,
			FromNumber: e.FromNumber,
			ToNumber:   e.ToNumber,
			DurationMS: e.DurationMS,
		},
	}

	var out engagementResponse
	if err := c.do(ctx, http.MethodPost, "/engagements/v1/engagements", payload, &out); err != nil {
		return "", err
	}
	return strconv.FormatInt(out.Engagement.ID, 10), nil
}

// do sends one logical request with the retry policy described on Client.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("hubspot: encode request: %w", err)
		}
		body = b
	}

	refreshed := false
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(c.backoff(attempt))
		}

		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("hubspot: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			c.log.Warn("hubspot request failed", "method", method, "path", path, "attempt", attempt+1, "err", err)
			continue
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("hubspot: decode response: %w", err)
				}
			}
			return nil

		case resp.StatusCode == http.StatusUnauthorized:
			if refreshed {
				return fmt.Errorf("401 after token refresh: %w", ErrAuth)
			}
			refreshed = true
			c.log.Info("hubspot token rejected, refreshing", "category", errCategory(respBody))
			if _, err := c.tokens.ForceRefresh(ctx); err != nil {
				return err
			}
			// Retry immediately; this was not a transport failure.
			attempt--
			continue

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = &APIError{StatusCode: resp.StatusCode, Category: errCategory(respBody)}
			c.log.Warn("hubspot transient error", "method", method, "path", path, "status", resp.StatusCode, "attempt", attempt+1)
			continue

		default:
			return &APIError{StatusCode: resp.StatusCode, Category: errCategory(respBody), Body: string(respBody)}
		}
	}

	return fmt.Errorf("hubspot: %s %s failed after %d attempts: %w", method, path, c.maxAttempts, lastErr)
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.backoffBase << (attempt - 1)
	if d > c.backoffCap {
		return c.backoffCap
	}
	return d
}

// errCategory extracts HubSpot's error category field, e.g.
// EXPIRED_AUTHENTICATION on a stale token.
func errCategory(body []byte) string {
	var e struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.Category
}
