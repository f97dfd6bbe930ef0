// Package auth implements the SSO authorization-code helpers and the
// on-demand refresh-token cache. This collector authenticates as a single
// application principal and only needs one live access token, held in
// memory, rather than a durable per-character session store.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"net/url"
)

const authorizeURL = "https://login.eveonline.com/v2/oauth/authorize"

// SSOConfig holds the application's EVE SSO registration details.
type SSOConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       string
}

// BuildAuthURL constructs the authorization-code redirect URL for state.
func (c *SSOConfig) BuildAuthURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("redirect_uri", c.CallbackURL)
	q.Set("client_id", c.ClientID)
	q.Set("scope", c.Scopes)
	q.Set("state", state)
	return authorizeURL + "?" + q.Encode()
}

// GenerateState returns 16 random bytes, base64-URL-encoded, for use as the
// OAuth state parameter.
func GenerateState() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("auth: failed to read random state: " + err.Error())
	}
	return base64.URLEncoding.EncodeToString(buf)
}
