package hubspot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrAuth means the refresh exchange failed (revoked or invalid refresh
// token). CRM operations cannot proceed until credentials are replaced
// out-of-band.
var ErrAuth = errors.New("hubspot: authentication failed")

const defaultExpirySkew = 60 * time.Second

// TokenManager owns the OAuth access-token state for the HubSpot API.
//
// Single-writer discipline: the mutex is held across the refresh exchange,
// so concurrent callers never trigger duplicate refreshes; they block and
// pick up the result of the one in flight. Callers only ever see an opaque
// valid token, never the internal state.
type TokenManager struct {
	clientID     string
	clientSecret string
	refreshToken string
	tokenURL     string

	hc    *http.Client
	skew  time.Duration
	clock func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

type TokenManagerConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// SeedAccessToken optionally primes the manager with an existing token.
	// It is used until its assumed validity window passes or a 401 forces
	// a refresh.
	SeedAccessToken string

	// TokenURL overrides the exchange endpoint (tests).
	TokenURL string

	HTTPClient *http.Client
	Skew       time.Duration
}

func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
	m := &TokenManager{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		refreshToken: cfg.RefreshToken,
		tokenURL:     cfg.TokenURL,
		hc:           cfg.HTTPClient,
		skew:         cfg.Skew,
		clock:        time.Now,
		accessToken:  cfg.SeedAccessToken,
	}
	if m.tokenURL == "" {
		m.tokenURL = "https://api.hubapi.com/oauth/v1/token"
	}
	if m.hc == nil {
		m.hc = &http.Client{Timeout: 30 * time.Second}
	}
	if m.skew <= 0 {
		m.skew = defaultExpirySkew
	}
	if m.accessToken != "" {
		// Assume a short validity for seeded tokens; a 401 will correct us.
		m.expiresAt = m.clock().Add(5 * time.Minute)
	}
	return m
}

// Token returns a valid access token, refreshing first when the current one
// is expired or inside the skew window.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.accessToken != "" && m.clock().Add(m.skew).Before(m.expiresAt) {
		return m.accessToken, nil
	}
	return m.refreshLocked(ctx)
}

// ForceRefresh discards the current token and performs a refresh exchange.
// The CRM client calls this after a 401 on a request that carried a token
// this manager considered valid.
func (m *TokenManager) ForceRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = ""
	return m.refreshLocked(ctx)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (m *TokenManager) refreshLocked(ctx context.Context) (string, error) {
	if m.clientID == "" || m.clientSecret == "" || m.refreshToken == "" {
		return "", fmt.Errorf("refresh credentials missing: %w", ErrAuth)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"refresh_token": {m.refreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh exchange: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh exchange returned %d: %w", resp.StatusCode, ErrAuth)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return "", fmt.Errorf("refresh exchange returned no access_token: %w", ErrAuth)
	}

	m.accessToken = tr.AccessToken
	if tr.ExpiresIn > 0 {
		m.expiresAt = m.clock().Add(time.Duration(tr.ExpiresIn) * time.Second)
	} else {
		m.expiresAt = m.clock().Add(30 * time.Minute)
	}
	return m.accessToken, nil
}
