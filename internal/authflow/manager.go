package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// Scopes requested for every device flow. AppFolder keeps the app inside
// its own sandboxed directory; offline_access yields the refresh token
// that silent refresh depends on.
var scopes = []string{
	"Files.ReadWrite.AppFolder",
	"User.Read",
	"offline_access",
}

// minFlowLifetime extends the provider's default device-code expiry
// (usually ~15 minutes) for users completing the flow on a second device.
// The code itself is not reissued; only the locally tracked deadline moves.
const minFlowLifetime = 45 * time.Minute

// defaultPollInterval is used when the provider omits an interval hint.
const defaultPollInterval = 5 * time.Second

// grantDeviceCode is the RFC 8628 token-request grant type.
const grantDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

// OAuthConfig builds the oauth2.Config shared by the flow manager and the
// token store. tenant is usually "common" to accept both personal and
// work/school Microsoft accounts.
func OAuthConfig(clientID, tenant string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Scopes:   scopes,
		Endpoint: microsoft.AzureADEndpoint(tenant),
	}
}

// TokenSink receives redeemed tokens. The token store implements it.
type TokenSink interface {
	SetToken(tok *oauth2.Token)
	Persist() error
}

// Manager owns all in-flight device-flow sessions. One instance is shared
// across a process; session creation and removal are guarded by a map-level
// mutex, and each session serializes its own polls.
type Manager struct {
	cfg        *oauth2.Config
	tokens     TokenSink
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	// now is a test hook for expiry checks.
	now func() time.Time
}

// NewManager creates a Manager. httpClient may be nil (http.DefaultClient);
// logger may be nil (slog.Default()).
func NewManager(cfg *oauth2.Config, tokens TokenSink, httpClient *http.Client, logger *slog.Logger) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger,
		sessions:   make(map[string]*session),
		now:        time.Now,
	}
}

// StartDeviceFlow requests a device code from the identity provider and
// registers a pending session under sessionID. An existing session with the
// same id is replaced — retrying a stuck login starts over cleanly.
//
// A missing client id short-circuits with ErrFlowInit before any network
// call: a doomed request would only produce a less actionable error.
func (m *Manager) StartDeviceFlow(ctx context.Context, sessionID string) (*FlowInfo, error) {
	if m.cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: client id is not configured (set NOTED_CLIENT_ID)", ErrFlowInit)
	}

	m.logger.Info("starting device code flow", slog.String("session", sessionID))

	// Route the oauth2 library through our HTTP client so tests can point
	// the flow at a fake provider.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	da, err := m.cfg.DeviceAuth(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("%w: %s: %s", ErrFlowInit, re.ErrorCode, re.ErrorDescription)
		}

		return nil, fmt.Errorf("%w: %v", ErrFlowInit, err)
	}

	now := m.now()

	expiresAt := da.Expiry
	if expiresAt.IsZero() || expiresAt.Before(now.Add(minFlowLifetime)) {
		expiresAt = now.Add(minFlowLifetime)
	}

	interval := defaultPollInterval
	if da.Interval > 0 {
		interval = time.Duration(da.Interval) * time.Second
	}

	s := &session{
		id:              sessionID,
		deviceCode:      da.DeviceCode,
		userCode:        da.UserCode,
		verificationURI: da.VerificationURI,
		interval:        interval,
		startedAt:       now,
		expiresAt:       expiresAt,
		state:           StatePending,
	}

	m.mu.Lock()
	m.sessions[sessionID] = s
	m.mu.Unlock()

	m.logger.Info("device code issued",
		slog.String("session", sessionID),
		slog.Duration("expires_in", expiresAt.Sub(now)),
		slog.Duration("interval", interval),
	)

	return &FlowInfo{
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
		ExpiresIn:       expiresAt.Sub(now),
		Interval:        interval,
	}, nil
}

// PollStatus makes one non-blocking redemption attempt for the session and
// reports its state. Safe to call repeatedly from a timer or per HTTP
// request; authorization_pending and slow_down keep the session pending,
// any other provider response is absorbing. Terminal sessions are pruned
// after their status has been consumed once.
func (m *Manager) PollStatus(ctx context.Context, sessionID string) (Status, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNoSession, sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		st := Status{State: s.state, Message: s.message}
		m.consume(s)

		return st, nil
	}

	if m.now().After(s.expiresAt) {
		s.state = StateExpired
		s.message = fmt.Sprintf("authentication flow expired after %s", s.expiresAt.Sub(s.startedAt).Round(time.Minute))
		m.logger.Warn("device flow expired", slog.String("session", sessionID))
		st := Status{State: s.state, Message: s.message}
		m.consume(s)

		return st, nil
	}

	m.redeem(ctx, s)

	st := Status{State: s.state, Message: s.message}
	if s.state.Terminal() {
		m.consume(s)
	}

	return st, nil
}

// ExtendTimeout pushes the locally tracked expiry of a pending session
// further out. The device code is re-polled, not re-issued, so this only
// helps while the provider still honors the original code.
func (m *Manager) ExtendTimeout(sessionID string, extra time.Duration) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.expiresAt = s.expiresAt.Add(extra)

	m.logger.Info("extended device flow timeout",
		slog.String("session", sessionID),
		slog.Time("expires_at", s.expiresAt),
	)

	return nil
}

// Cancel removes a session. Idempotent: cancelling an unknown session is a
// no-op. Cancelling after redemption already succeeded server-side does not
// revoke the issued token; it only stops further local polling.
func (m *Manager) Cancel(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// consume marks a terminal session as delivered and removes it from the
// map. Caller holds s.mu.
func (m *Manager) consume(s *session) {
	if s.consumed {
		return
	}

	s.consumed = true

	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
}

// tokenResponse is the identity provider's token endpoint JSON, covering
// both the success and the error shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`

	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// redeem makes a single device-code redemption request and applies the
// resulting state transition. Caller holds s.mu, which is exactly the
// point: redemption is not idempotent, so polls for one session must not
// overlap.
func (m *Manager) redeem(ctx context.Context, s *session) {
	form := url.Values{
		"client_id":   {m.cfg.ClientID},
		"grant_type":  {grantDeviceCode},
		"device_code": {s.deviceCode},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		s.state = StateError
		s.message = fmt.Sprintf("building token request: %v", err)

		return
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		// Transient network trouble is not a verdict on the flow: the user
		// may still be typing the code. Stay pending.
		m.logger.Warn("device flow poll transport error",
			slog.String("session", s.id),
			slog.String("error", err.Error()),
		)

		s.message = "authentication check in progress"

		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		m.logger.Warn("device flow poll read error",
			slog.String("session", s.id),
			slog.String("error", err.Error()),
		)

		s.message = "authentication check in progress"

		return
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		s.state = StateError
		s.message = fmt.Sprintf("decoding token response: %v", err)

		return
	}

	switch {
	case tr.AccessToken != "":
		m.completeAuth(s, &tr)
	case tr.ErrorCode == "authorization_pending":
		s.message = "waiting for user authorization"
	case tr.ErrorCode == "slow_down":
		// Provider back-pressure: widen the hint callers use for pacing.
		s.interval += defaultPollInterval
		s.message = "waiting for user authorization (slowing down)"
	case tr.ErrorCode == "expired_token":
		s.state = StateExpired
		s.message = "device code expired before authorization completed"
	case tr.ErrorCode == "authorization_declined" || tr.ErrorCode == "access_denied":
		s.state = StateDenied
		s.message = "user declined the authorization request"
	default:
		s.state = StateError
		s.message = providerMessage(&tr)
	}
}

// completeAuth stores the redeemed token and marks the session
// authenticated. A persist failure does not fail the login — the token is
// live in memory and an unsynced cache beats losing a just-acquired token.
func (m *Manager) completeAuth(s *session, tr *tokenResponse) {
	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = m.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	m.tokens.SetToken(tok)

	if err := m.tokens.Persist(); err != nil {
		m.logger.Warn("failed to persist redeemed token",
			slog.String("session", s.id),
			slog.String("error", err.Error()),
		)
	}

	s.state = StateAuthenticated
	s.message = "authentication successful"

	m.logger.Info("device flow authenticated",
		slog.String("session", s.id),
		slog.Time("token_expiry", tok.Expiry),
	)
}

// providerMessage formats an unexpected provider error, preserving the
// literal description for diagnostics.
func providerMessage(tr *tokenResponse) string {
	if tr.ErrorDescription != "" {
		return fmt.Sprintf("%s: %s", tr.ErrorCode, tr.ErrorDescription)
	}

	return tr.ErrorCode
}
