// Package esi implements the HTTP fetch layer: a single fetch operation
// with a process-wide reactive rate gate, per-response backoff parsing,
// bounded retry, and a soft local token-bucket pacer additive to the gate.
package esi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"eve-hoarder/internal/auth"
	"eve-hoarder/internal/esierr"
)

const (
	defaultBaseURL  = "https://esi.evetech.net/latest"
	attemptTimeout  = 7 * time.Second
	defaultCooldown = 20 * time.Second
)

// Result is the product of one successful fetch.
type Result struct {
	Body       []byte
	Pages      int
	ExpiresAt  time.Time
	ModifiedAt time.Time
}

// Client performs fetches against the ESI surface. The gate and limiter
// are process-wide and safe to share; the underlying http.Client is also
// safe for concurrent use, so one Client may be shared across workers.
type Client struct {
	// BaseURL defaults to the production ESI host; tests point it at an
	// httptest.Server instead.
	BaseURL string

	http    *http.Client
	gate    *Gate
	limiter *rate.Limiter
	tokens  *auth.TokenCache
}

// NewClient builds a Client. tokens may be nil if authenticated fetches
// are never performed. burstPerSecond bounds the soft local pacer; it is
// additive to, and never a substitute for, the gate.
func NewClient(tokens *auth.TokenCache, burstPerSecond int) *Client {
	if burstPerSecond <= 0 {
		burstPerSecond = 20
	}
	return &Client{
		BaseURL: defaultBaseURL,
		http:    &http.Client{Timeout: attemptTimeout},
		gate:    NewGate(),
		limiter: rate.NewLimiter(rate.Limit(burstPerSecond), burstPerSecond),
		tokens:  tokens,
	}
}

// Fetch performs method against uri (relative to baseURL) with body,
// retrying up to retries times according to the per-status backoff table.
func (c *Client) Fetch(ctx context.Context, method, uri string, body []byte, authenticated bool, retries int) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, esierr.Wrap(esierr.Transport, uri, err)
		}
		if err := c.gate.Wait(ctx); err != nil {
			return nil, esierr.Wrap(esierr.Transport, uri, err)
		}

		res, cooldown, retriable, err := c.attempt(ctx, method, uri, body, authenticated)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if cooldown > 0 {
			c.gate.Advance(cooldown)
		}
		if !retriable {
			return nil, err
		}
	}
	return nil, esierr.Wrap(esierr.OutOfRetries, uri, lastErr)
}

// attempt performs one HTTP round trip, returning (result, cooldown to
// advance the gate by, whether the caller should retry, error).
func (c *Client) attempt(ctx context.Context, method, uri string, body []byte, authenticated bool) (*Result, time.Duration, bool, error) {
	req, err := c.buildRequest(ctx, method, uri, body, authenticated)
	if err != nil {
		return nil, 0, false, esierr.Wrap(esierr.Auth, uri, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, true, esierr.Wrap(esierr.Transport, uri, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		res, err := parseSuccess(resp)
		if err != nil {
			return nil, 0, false, esierr.Wrap(esierr.Parse, uri, err)
		}
		return res, 0, false, nil

	case http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return nil, defaultCooldown, true, esierr.New(esierr.RateLimited, uri)

	case 420:
		return nil, parseErrorLimitReset(resp), true, esierr.New(esierr.RateLimited, uri)

	case http.StatusGatewayTimeout:
		return nil, parseTimeoutBody(resp), true, esierr.New(esierr.RateLimited, uri)

	default:
		return nil, 0, false, esierr.New(esierr.UpstreamRejected, fmt.Sprintf("%s: status %d", uri, resp.StatusCode))
	}
}

func (c *Client) buildRequest(ctx context.Context, method, uri string, body []byte, authenticated bool) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+uri, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "gzip")
	if body != nil {
		req.Header.Set("Content-Length", strconv.Itoa(len(body)))
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		if c.tokens == nil {
			return nil, fmt.Errorf("authenticated fetch requested but no token cache configured")
		}
		tok, err := c.tokens.Acquire()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

func parseSuccess(resp *http.Response) (*Result, error) {
	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	res := &Result{Body: body}
	if p := resp.Header.Get("X-Pages"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			res.Pages = n
		}
	}
	if e := resp.Header.Get("Expires"); e != "" {
		if t, err := http.ParseTime(e); err == nil {
			res.ExpiresAt = t
		}
	}
	if m := resp.Header.Get("Last-Modified"); m != "" {
		if t, err := http.ParseTime(m); err == nil {
			res.ModifiedAt = t
		}
	}
	return res, nil
}

func parseErrorLimitReset(resp *http.Response) time.Duration {
	raw := resp.Header.Get("X-Esi-Error-Limit-Reset")
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 1 || secs > 120 {
		return defaultCooldown
	}
	return time.Duration(secs) * time.Second
}

func parseTimeoutBody(resp *http.Response) time.Duration {
	var payload struct {
		Timeout int `json:"timeout"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return defaultCooldown
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Timeout <= 0 {
		return defaultCooldown
	}
	return time.Duration(payload.Timeout) * time.Second
}
