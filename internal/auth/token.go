package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"eve-hoarder/internal/esierr"
)

const (
	tokenEndpoint = "https://login.eveonline.com/v2/oauth/token"
	// maxAccessTokenBytes caps the size of a bearer token this cache will hold.
	maxAccessTokenBytes = 4096
	expirySkew          = 7 * time.Second
	preExpiryWindow     = 10 * time.Second
	tokenRequestTimeout = 7 * time.Second
)

// TokenCache holds the one live bearer token used by the fetch layer and
// refreshes it on demand. Refreshes racing from multiple goroutines
// collapse into a single SSO call via singleflight; a circuit breaker
// wraps the SSO call itself so a persistent outage fails fast rather than
// holding every caller through repeated timeouts.
type TokenCache struct {
	cfg          SSOConfig
	refreshToken string
	endpoint     string

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time

	group   singleflight.Group
	breaker *gobreaker.CircuitBreaker
	client  *http.Client
}

// NewTokenCache constructs a TokenCache for the given SSO app registration
// and long-lived refresh token (both sourced from the secrets store).
func NewTokenCache(cfg SSOConfig, refreshToken string) *TokenCache {
	settings := gobreaker.Settings{
		Name:     "eve-sso-refresh",
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &TokenCache{
		cfg:          cfg,
		refreshToken: refreshToken,
		endpoint:     tokenEndpoint,
		breaker:      gobreaker.NewCircuitBreaker(settings),
		client:       &http.Client{Timeout: tokenRequestTimeout},
	}
}

// Acquire returns a valid bearer token, refreshing it if it is within
// preExpiryWindow of expiry or already expired. Concurrent callers within
// the same refresh cycle observe the same result and trigger only one SSO
// round trip.
func (c *TokenCache) Acquire() (string, error) {
	c.mu.Lock()
	if time.Now().Add(preExpiryWindow).Before(c.expiresAt) {
		tok := c.accessToken
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return c.refresh()
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

func (c *TokenCache) refresh() (string, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRefresh()
	})
	if err != nil {
		return "", esierr.Wrap(esierr.Auth, "sso-refresh", err)
	}
	return result.(string), nil
}

func (c *TokenCache) doRefresh() (string, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", c.refreshToken)

	req, err := http.NewRequest(http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sso refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAccessTokenBytes*4))
	if err != nil {
		return "", fmt.Errorf("read sso response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sso refresh status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("parse sso response: %w", err)
	}

	if tr.TokenType != "Bearer" {
		return "", fmt.Errorf("sso semantics changed: token_type = %q", tr.TokenType)
	}
	if tr.RefreshToken != c.refreshToken {
		return "", fmt.Errorf("sso semantics changed: refresh_token echo mismatch")
	}
	if tr.ExpiresIn < 0 || tr.ExpiresIn > math.MaxInt32 {
		return "", fmt.Errorf("sso semantics changed: expires_in out of range (%d)", tr.ExpiresIn)
	}
	if len(tr.AccessToken) > maxAccessTokenBytes {
		return "", fmt.Errorf("access_token exceeds %d bytes", maxAccessTokenBytes)
	}
	if len(tr.AccessToken) == 0 {
		return "", fmt.Errorf("sso semantics changed: empty access_token")
	}

	c.mu.Lock()
	c.accessToken = tr.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - expirySkew)
	tok := c.accessToken
	c.mu.Unlock()

	return tok, nil
}

// basicAuthHeader is exposed for tests that want to assert on the Basic
// auth header without re-deriving the base64 encoding.
func basicAuthHeader(id, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(id+":"+secret))
}
