package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jwinnathayden/noted-sync/internal/authflow"
	"github.com/jwinnathayden/noted-sync/internal/config"
	"github.com/jwinnathayden/noted-sync/internal/ledger"
	"github.com/jwinnathayden/noted-sync/internal/tokenstore"
)

// fakeProvider simulates the identity provider's device-code and token
// endpoints. The token endpoint replays queued responses in order,
// sticking on the last one.
type fakeProvider struct {
	srv       *httptest.Server
	responses []string
	calls     int
}

func newFakeProvider(t *testing.T, tokenResponses ...string) *fakeProvider {
	t.Helper()

	p := &fakeProvider{responses: tokenResponses}

	mux := http.NewServeMux()
	mux.HandleFunc("/devicecode", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"device_code": "dev-1",
			"user_code": "WXYZ-9876",
			"verification_uri": "https://login.example.com/device",
			"expires_in": 900,
			"interval": 5
		}`))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		idx := p.calls
		if idx >= len(p.responses) {
			idx = len(p.responses) - 1
		}

		p.calls++

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(p.responses[idx]))
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)

	return p
}

func (p *fakeProvider) config(clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: p.srv.URL + "/devicecode",
			TokenURL:      p.srv.URL + "/token",
		},
	}
}

// newTestAPIServer wires an apiServer against the fake provider and temp
// paths, and points the package-level config at the same temp dirs.
func newTestAPIServer(t *testing.T, p *fakeProvider, clientID string) *apiServer {
	t.Helper()

	dir := t.TempDir()

	resolvedCfg = &config.Config{
		ClientID:   clientID,
		Tenant:     "common",
		TokenPath:  filepath.Join(dir, "token.json"),
		NotesPath:  filepath.Join(dir, "notes.json"),
		LedgerPath: filepath.Join(dir, "ledger.db"),
		LogLevel:   "error",
		ListenAddr: "127.0.0.1:0",
	}

	tokens := tokenstore.New(resolvedCfg.TokenPath, p.config(clientID), nil)

	names, err := ledger.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = names.Close() })

	return &apiServer{
		mgr:    authflow.NewManager(p.config(clientID), tokens, p.srv.Client(), nil),
		tokens: tokens,
		names:  names,
		logger: buildLogger(),
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, cookies []*http.Cookie, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}

	return rec, decoded
}

func TestAuthStartWithoutClientID(t *testing.T) {
	p := newFakeProvider(t, `{"error": "authorization_pending"}`)
	s := newTestAPIServer(t, p, "")

	rec, body := doJSON(t, s.router(), http.MethodPost, "/api/auth/start", nil, "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body["error"], "client id")
}

func TestAuthFlowPendingThenSuccess(t *testing.T) {
	p := newFakeProvider(t,
		`{"error": "authorization_pending"}`,
		`{"access_token": "at-1", "token_type": "Bearer", "refresh_token": "rt-1", "expires_in": 3600}`,
	)
	s := newTestAPIServer(t, p, "client-1")
	router := s.router()

	rec, body := doJSON(t, router, http.MethodPost, "/api/auth/start", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "WXYZ-9876", body["user_code"])
	assert.Equal(t, "https://login.example.com/device", body["verification_uri"])

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies, "start must establish a session cookie")

	// Not authenticated yet.
	rec, body = doJSON(t, router, http.MethodGet, "/api/auth/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["authenticated"])

	rec, body = doJSON(t, router, http.MethodGet, "/api/auth/check", cookies, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", body["status"])

	rec, body = doJSON(t, router, http.MethodGet, "/api/auth/check", cookies, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])

	rec, body = doJSON(t, router, http.MethodGet, "/api/auth/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["authenticated"])
}

func TestAuthCheckWithoutSession(t *testing.T) {
	p := newFakeProvider(t, `{"error": "authorization_pending"}`)
	s := newTestAPIServer(t, p, "client-1")

	rec, _ := doJSON(t, s.router(), http.MethodGet, "/api/auth/check",
		[]*http.Cookie{{Name: sessionCookie, Value: "never-started"}}, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthExtendAndCancel(t *testing.T) {
	p := newFakeProvider(t, `{"error": "authorization_pending"}`)
	s := newTestAPIServer(t, p, "client-1")
	router := s.router()

	rec, _ := doJSON(t, router, http.MethodPost, "/api/auth/start", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()

	rec, body := doJSON(t, router, http.MethodPost, "/api/auth/extend", cookies, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["extended"])

	rec, body = doJSON(t, router, http.MethodPost, "/api/auth/cancel", cookies, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["canceled"])

	// The session is gone after cancel.
	rec, _ = doJSON(t, router, http.MethodGet, "/api/auth/check", cookies, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthSessionFromHeader(t *testing.T) {
	p := newFakeProvider(t, `{"error": "authorization_pending"}`)
	s := newTestAPIServer(t, p, "client-1")
	router := s.router()

	req := httptest.NewRequest(http.MethodPost, "/api/auth/start", nil)
	req.Header.Set("X-Session-ID", "desktop-7")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// No cookie for header-identified clients.
	assert.Empty(t, rec.Result().Cookies())

	req = httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
	req.Header.Set("X-Session-ID", "desktop-7")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncPullRejectsBadStrategy(t *testing.T) {
	p := newFakeProvider(t, `{"error": "authorization_pending"}`)
	s := newTestAPIServer(t, p, "client-1")

	rec, body := doJSON(t, s.router(), http.MethodPost, "/api/sync/pull", nil, `{"strategy": "overwrite"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "unknown pull strategy")
}

func TestSyncPushWithoutIdentity(t *testing.T) {
	p := newFakeProvider(t, `{"error": "authorization_pending"}`)
	s := newTestAPIServer(t, p, "client-1")

	rec, _ := doJSON(t, s.router(), http.MethodPost, "/api/sync/push", nil, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
