package esi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := NewClient(nil, 1000)
	c.http = srv.Client()
	c.BaseURL = srv.URL
	return c
}

func fetchAgainst(t *testing.T, c *Client, srv *httptest.Server, retries int) (*Result, error) {
	t.Helper()
	return c.Fetch(context.Background(), http.MethodGet, "/markets/region/orders", nil, false, retries)
}

func TestFetchSucceedsOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Pages", "3")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	res, err := fetchAgainst(t, c, srv, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Pages != 3 {
		t.Errorf("Pages = %d, want 3", res.Pages)
	}
}

func TestFetchRetriesOn503WithGateAdvance(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.gate.Advance(-1000 * time.Hour) // start clear

	before := time.Now()
	_, err := fetchAgainst(t, c, srv, 1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if c.gate.NotBefore().Before(before.Add(19 * time.Second)) {
		t.Errorf("gate not advanced by ~20s after 503: not_before=%v", c.gate.NotBefore())
	}
}

func TestFetchNonRetriableOnOtherStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := fetchAgainst(t, c, srv, 5)
	if err == nil {
		t.Fatal("expected non-retriable error on 404")
	}
}

func TestFetchOutOfRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.gate.Advance(-1000 * time.Hour)
	_, err := fetchAgainst(t, c, srv, 1)
	if err == nil {
		t.Fatal("expected OutOfRetries error")
	}
}
