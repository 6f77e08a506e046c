package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/avolkov/graphport/internal/config"
	"github.com/avolkov/graphport/internal/graph"
	"github.com/avolkov/graphport/internal/oidc"
	"github.com/avolkov/graphport/internal/session"
	"github.com/avolkov/graphport/internal/tokencache"
)

// newTestServer builds a server with an in-memory session store and a stub
// downstream API. The zero-value identity client is enough for every path
// that does not contact the provider (cached tokens, callback error paths).
func newTestServer(t *testing.T, graphHandler http.Handler) (*Server, *session.MemoryStore) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.OIDC.Issuer = "https://login.microsoftonline.com/common/v2.0"
	cfg.OIDC.ClientID = "test-client"
	cfg.OIDC.RedirectURI = "http://localhost:8080/getAToken"

	var graphClient *graph.Client
	if graphHandler != nil {
		stub := httptest.NewServer(graphHandler)
		t.Cleanup(stub.Close)
		graphClient = graph.NewClient(&config.GraphConfig{
			Endpoint:       stub.URL,
			RequestTimeout: 5,
		})
	} else {
		graphClient = graph.NewClient(&cfg.Graph)
	}

	store := session.NewMemoryStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	srv, err := NewServer(cfg, &oidc.Client{}, store, graphClient, "test-build")
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return srv, store
}

// seedSession stores data under a fresh session id and returns the id.
func seedSession(t *testing.T, store *session.MemoryStore, data *session.Data) string {
	t.Helper()
	id, err := session.NewID()
	if err != nil {
		t.Fatalf("NewID failed: %v", err)
	}
	if err := store.Put(context.Background(), id, data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	return id
}

// serializedCache returns a token cache blob holding one unexpired entry.
func serializedCache(t *testing.T, accessToken string) string {
	t.Helper()
	cache := tokencache.New()
	cache.Put("user-sub-1", tokencache.Entry{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
		Claims:      map[string]any{"sub": "user-sub-1"},
	})
	blob, err := cache.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	return blob
}

func sessionRequest(method, target, sessionID string, form url.Values) *http.Request {
	var r *http.Request
	if form != nil {
		r = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if sessionID != "" {
		r.AddCookie(&http.Cookie{Name: "graphport_session", Value: sessionID})
	}
	return r
}

// stubProfileHandler serves the profile route used by the form pages.
func stubProfileHandler(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1.0/me" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":                "user-id-1",
				"displayName":       "Test User",
				"userPrincipalName": "test@example.com",
			})
			return
		}
		if next != nil {
			next(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
}

func TestIndexRedirectsAnonymous(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, sessionRequest("GET", "/", "", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location = %q, want /login", loc)
	}
}

func TestIndexRendersAuthenticated(t *testing.T) {
	srv, store := newTestServer(t, nil)
	id := seedSession(t, store, &session.Data{
		User:    map[string]any{"sub": "user-1", "name": "Test User"},
		Flashes: []string{"welcome back"},
	})

	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, sessionRequest("GET", "/", id, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Test User") {
		t.Error("expected user name in page")
	}
	if !strings.Contains(body, "welcome back") {
		t.Error("expected flash message in page")
	}

	// Flashes render exactly once
	got, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Flashes) != 0 {
		t.Errorf("flashes not drained: %v", got.Flashes)
	}
}

func TestCallbackStateMismatchRedirectsHome(t *testing.T) {
	srv, store := newTestServer(t, nil)
	id := seedSession(t, store, &session.Data{
		Flow: &oidc.AuthFlow{State: "expected-state", CodeVerifier: "v"},
	})

	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, sessionRequest("GET", "/getAToken?state=forged&code=abc", id, nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}

	// The pending flow is consumed even on mismatch
	got, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Flow != nil {
		t.Error("flow should be consumed after callback")
	}
	if got.Authenticated() {
		t.Error("session must stay anonymous after a mismatched callback")
	}
}

func TestCallbackWithoutPendingFlow(t *testing.T) {
	srv, store := newTestServer(t, nil)
	id := seedSession(t, store, &session.Data{})

	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, sessionRequest("GET", "/getAToken?state=abc&code=abc", id, nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
}

func TestCallbackProviderError(t *testing.T) {
	srv, store := newTestServer(t, nil)
	id := seedSession(t, store, &session.Data{
		Flow: &oidc.AuthFlow{State: "expected-state", CodeVerifier: "v"},
	})

	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, sessionRequest("GET",
		"/getAToken?state=expected-state&error=access_denied&error_description=user+declined", id, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "access_denied") {
		t.Error("expected provider error code in page")
	}
	if !strings.Contains(body, "user declined") {
		t.Error("expected provider error description in page")
	}

	// The flow survives a provider error so the open attempt can complete
	got, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Flow == nil || got.Flow.State != "expected-state" {
		t.Error("flow should be retained after a provider error")
	}
}

func TestCallbackForgedErrorWithoutState(t *testing.T) {
	// An error callback is only honored for the pending flow it belongs
	// to. Without a matching state it is treated like any other mismatch:
	// sent home silently, no diagnostic page.
	srv, store := newTestServer(t, nil)
	id := seedSession(t, store, &session.Data{
		Flow: &oidc.AuthFlow{State: "expected-state", CodeVerifier: "v"},
	})

	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, sessionRequest("GET",
		"/getAToken?error=access_denied&error_description=forged", id, nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
	if strings.Contains(w.Body.String(), "access_denied") {
		t.Error("forged error detail must not render")
	}
}

func TestLogoutClearsSession(t *testing.T) {
	srv, store := newTestServer(t, nil)
	id := seedSession(t, store, &session.Data{
		User:       map[string]any{"sub": "user-1"},
		TokenCache: serializedCache(t, "tok"),
	})

	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, sessionRequest("GET", "/logout", id, nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); !strings.Contains(loc, "post_logout_redirect_uri=") {
		t.Errorf("Location %q should carry post_logout_redirect_uri", loc)
	}

	if _, err := store.Get(context.Background(), id); err == nil {
		t.Error("session should be deleted on logout")
	}

	// Cookie must be expired
	found := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "graphport_session" {
			found = true
			if c.MaxAge >= 0 {
				t.Errorf("cookie MaxAge = %d, want negative", c.MaxAge)
			}
		}
	}
	if !found {
		t.Error("expected an expiring session cookie")
	}
}

func TestProtectedPagesRedirectWithoutToken(t *testing.T) {
	srv, store := newTestServer(t, nil)

	// Authenticated claims but no usable token in the cache
	id := seedSession(t, store, &session.Data{
		User: map[string]any{"sub": "user-1"},
	})

	paths := []string{"/graphcall", "/get-access-token", "/get-tasks", "/get-user-profile", "/send-mail"}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.mux.ServeHTTP(w, sessionRequest("GET", path, id, nil))

			if w.Code != http.StatusFound {
				t.Fatalf("status = %d, want 302", w.Code)
			}
			if loc := w.Header().Get("Location"); loc != "/login" {
				t.Errorf("Location = %q, want /login", loc)
			}
		})
	}
}

func TestGraphCallRendersProfile(t *testing.T) {
	srv, store := newTestServer(t, stubProfileHandler(nil))
	id := seedSession(t, store, &session.Data{
		User:       map[string]any{"sub": "user-sub-1"},
		TokenCache: serializedCache(t, "cached-token"),
	})

	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, sessionRequest("GET", "/graphcall", id, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Test User") {
		t.Error("expected profile content in page")
	}
}

func TestGraphCallDownstreamFailure(t *testing.T) {
	srv, store := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"ServiceUnavailable"}}`, http.StatusServiceUnavailable)
	}))
	id := seedSession(t, store, &session.Data{
		User:       map[string]any{"sub": "user-sub-1"},
		TokenCache: serializedCache(t, "cached-token"),
	})

	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, sessionRequest("GET", "/graphcall", id, nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	body := w.Body.String()
	// No response detail reaches the page
	if strings.Contains(body, "ServiceUnavailable") {
		t.Error("downstream error detail must not be shown to the user")
	}
	if !strings.Contains(body, "debug log") {
		t.Error("expected the generic failure message")
	}
}

func TestAccessTokenPage(t *testing.T) {
	srv, store := newTestServer(t, nil)
	id := seedSession(t, store, &session.Data{
		User:       map[string]any{"sub": "user-sub-1"},
		TokenCache: serializedCache(t, "cached-token"),
	})

	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, sessionRequest("GET", "/get-access-token", id, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "cached-token") {
		t.Error("expected access token in page")
	}
	if !strings.Contains(body, "Bearer") {
		t.Error("expected token type in page")
	}
}

func TestTasksPage(t *testing.T) {
	srv, store := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{"id": "list-1", "displayName": "Tasks"},
				{"id": "list-2", "displayName": "Groceries"},
			},
		})
	}))
	id := seedSession(t, store, &session.Data{
		User:       map[string]any{"sub": "user-sub-1"},
		TokenCache: serializedCache(t, "cached-token"),
	})

	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, sessionRequest("GET", "/get-tasks", id, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Groceries") || !strings.Contains(body, "list-2") {
		t.Error("expected task lists in page")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "test-build" {
		t.Errorf("version = %q, want the build version passed at construction", resp.Version)
	}
}

// newProviderStub serves enough OIDC discovery metadata for NewClient, plus
// a token endpoint that answers every refresh grant with accessToken.
func newProviderStub(t *testing.T, accessToken string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var stub *httptest.Server

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 stub.URL,
			"authorization_endpoint": stub.URL + "/authorize",
			"token_endpoint":         stub.URL + "/token",
			"jwks_uri":               stub.URL + "/keys",
			"end_session_endpoint":   stub.URL + "/logout",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []any{}})
	})

	stub = httptest.NewServer(mux)
	t.Cleanup(stub.Close)
	return stub
}

// expiredSessionCache returns a token cache blob whose only entry is expired
// but still holds a refresh token.
func expiredSessionCache(t *testing.T) string {
	t.Helper()
	cache := tokencache.New()
	cache.Put("user-sub-1", tokencache.Entry{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
		Claims:       map[string]any{"sub": "user-sub-1"},
	})
	blob, err := cache.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	return blob
}

func TestAccessTokenSilentRefreshRepersistsCache(t *testing.T) {
	provider := newProviderStub(t, "refreshed-token")

	cfg := config.DefaultConfig()
	cfg.OIDC.Issuer = provider.URL
	cfg.OIDC.ClientID = "test-client"
	cfg.OIDC.RedirectURI = "http://localhost:8080/getAToken"

	oidcClient, err := oidc.NewClient(context.Background(), &cfg.OIDC)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	store := session.NewMemoryStore(time.Hour)
	defer store.Close()

	srv, err := NewServer(cfg, oidcClient, store, graph.NewClient(&cfg.Graph), "test-build")
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	id := seedSession(t, store, &session.Data{
		User:       map[string]any{"sub": "user-sub-1"},
		TokenCache: expiredSessionCache(t),
	})

	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, sessionRequest("GET", "/get-access-token", id, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "refreshed-token") {
		t.Error("expected the refreshed access token in the page")
	}

	// The refreshed cache blob must be written back to the session
	got, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !strings.Contains(got.TokenCache, "refreshed-token") {
		t.Error("session cache blob should carry the refreshed token")
	}
	if strings.Contains(got.TokenCache, "stale-token") {
		t.Error("session cache blob should no longer carry the stale token")
	}
}

func TestNewServerRejectsRootCallbackPath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OIDC.Issuer = "https://login.microsoftonline.com/common/v2.0"
	cfg.OIDC.ClientID = "test-client"
	cfg.OIDC.RedirectURI = "http://localhost:8080/"

	store := session.NewMemoryStore(time.Hour)
	defer store.Close()

	_, err := NewServer(cfg, &oidc.Client{}, store, graph.NewClient(&cfg.Graph), "test-build")
	if err == nil {
		t.Fatal("expected error for a root callback path")
	}
}
