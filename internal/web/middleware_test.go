package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := securityHeadersMiddleware(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	headers := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": "default-src 'self'; style-src 'self' 'unsafe-inline'",
	}
	for name, want := range headers {
		if got := w.Header().Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}

	// HSTS only applies to TLS requests
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("unexpected HSTS header on plain HTTP: %q", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestIPRateLimiter(t *testing.T) {
	rl := &IPRateLimiter{
		limiters: make(map[string]*ipEntry),
		rate:     rate.Limit(1),
		burst:    2,
		maxSize:  10,
	}

	limiter := rl.getLimiter("192.0.2.1")

	// Burst of 2, then denied
	if !limiter.Allow() {
		t.Error("first request should be allowed")
	}
	if !limiter.Allow() {
		t.Error("second request should be allowed")
	}
	if limiter.Allow() {
		t.Error("third request should exceed the burst")
	}

	// A different IP gets its own limiter
	other := rl.getLimiter("192.0.2.2")
	if !other.Allow() {
		t.Error("different IP should have a fresh limiter")
	}
}

func TestIPRateLimiterEviction(t *testing.T) {
	rl := &IPRateLimiter{
		limiters: make(map[string]*ipEntry),
		rate:     rate.Limit(1),
		burst:    1,
		maxSize:  2,
	}

	rl.getLimiter("192.0.2.1")
	rl.getLimiter("192.0.2.2")
	rl.getLimiter("192.0.2.3")

	if len(rl.limiters) > 2 {
		t.Errorf("tracked IPs = %d, want <= 2", len(rl.limiters))
	}
}

func TestExtractIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:54321"

	// X-Forwarded-For must be ignored to prevent spoofing
	r.Header.Set("X-Forwarded-For", "203.0.113.9")

	if got := extractIP(r); got != "192.0.2.1" {
		t.Errorf("extractIP = %q, want 192.0.2.1", got)
	}
}
