package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/info", nil))

	if seen == "" {
		t.Fatalf("expected generated request id in context")
	}
	if got := rec.Header().Get("X-Request-Id"); got != seen {
		t.Fatalf("echoed id %q, context id %q", got, seen)
	}
}

func TestRequestIDAcceptsInbound(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	req.Header.Set("X-Request-Id", "caller-supplied-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "caller-supplied-id" {
		t.Fatalf("inbound id not echoed: %q", got)
	}

	// Oversized inbound ids are replaced, not trusted.
	req = httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	req.Header.Set("X-Request-Id", strings.Repeat("x", 65))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got == strings.Repeat("x", 65) || got == "" {
		t.Fatalf("oversized id should be regenerated, got %q", got)
	}
}

func TestRateLimitExhaustsBudget(t *testing.T) {
	h := RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), 2, 1)

	req := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	req.RemoteAddr = "203.0.113.9:4242"

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d throttled early: %d", i, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", rec.Code)
	}

	// A different client has its own bucket.
	other := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	other.RemoteAddr = "198.51.100.7:4242"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("independent client throttled: %d", rec.Code)
	}
}

func TestPublicPathRateLimitSeparateBudgets(t *testing.T) {
	h := PublicPathRateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), "/l/", 10, 10, 1, 1)

	public := httptest.NewRequest(http.MethodGet, "/l/some-token", nil)
	public.RemoteAddr = "203.0.113.9:4242"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, public)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first public request throttled: %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, public)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected tighter public budget, got %d", rec.Code)
	}

	// The authenticated surface still has headroom for the same client.
	private := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	private.RemoteAddr = "203.0.113.9:4242"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, private)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("private surface throttled by public budget: %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/l/token", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("missing frame options header")
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if ip := clientIP(r); ip != "203.0.113.5" {
		t.Fatalf("unexpected client ip %q", ip)
	}
}
