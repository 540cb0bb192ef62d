package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/jwinnathayden/noted-sync/internal/authflow"
	"github.com/jwinnathayden/noted-sync/internal/graph"
	"github.com/jwinnathayden/noted-sync/internal/ledger"
	"github.com/jwinnathayden/noted-sync/internal/notes"
	"github.com/jwinnathayden/noted-sync/internal/syncer"
	"github.com/jwinnathayden/noted-sync/internal/tokenstore"
)

// sessionCookie carries the browser's device-flow session id. A client
// that cannot use cookies sends the same value in the X-Session-ID header.
const sessionCookie = "noted_session"

// extendBy is how much one extend request pushes a pending flow's
// deadline out.
const extendBy = 15 * time.Minute

// Server shutdown grace period.
const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API for the noted desktop client",
		RunE:  runServe,
	}
}

// apiServer holds the shared state behind the HTTP handlers. One flow
// manager serves every browser session; sync operations share the token
// store and name ledger with the CLI commands.
type apiServer struct {
	mgr    *authflow.Manager
	tokens *tokenstore.Store
	names  *ledger.Store
	logger *slog.Logger
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens := openTokenStore(logger)

	names, err := ledger.Open(ctx, resolvedCfg.LedgerPath, logger)
	if err != nil {
		return err
	}
	defer names.Close()

	s := &apiServer{
		mgr: authflow.NewManager(
			authflow.OAuthConfig(resolvedCfg.ClientID, resolvedCfg.Tenant),
			tokens, defaultHTTPClient(), logger,
		),
		tokens: tokens,
		names:  names,
		logger: logger,
	}

	srv := &http.Server{
		Addr:              resolvedCfg.ListenAddr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("api server listening", slog.String("addr", resolvedCfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down api server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func (s *apiServer) router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/start", s.handleAuthStart).Methods(http.MethodPost)
	api.HandleFunc("/auth/check", s.handleAuthCheck).Methods(http.MethodGet)
	api.HandleFunc("/auth/extend", s.handleAuthExtend).Methods(http.MethodPost)
	api.HandleFunc("/auth/cancel", s.handleAuthCancel).Methods(http.MethodPost)
	api.HandleFunc("/auth/status", s.handleAuthStatus).Methods(http.MethodGet)
	api.HandleFunc("/sync/push", s.handleSyncPush).Methods(http.MethodPost)
	api.HandleFunc("/sync/pull", s.handleSyncPull).Methods(http.MethodPost)
	api.HandleFunc("/cleanup/unused", s.handleCleanupUnused).Methods(http.MethodPost)

	return r
}

// sessionID resolves the caller's flow session, preferring the cookie,
// then the header, then minting a fresh id. The second return reports
// whether the id was newly minted and should be set as a cookie.
func sessionID(r *http.Request) (string, bool) {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value, false
	}

	if h := r.Header.Get("X-Session-ID"); h != "" {
		return h, false
	}

	return uuid.NewString(), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *apiServer) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	sid, fresh := sessionID(r)

	info, err := s.mgr.StartDeviceFlow(r.Context(), sid)
	if err != nil {
		if errors.Is(err, authflow.ErrFlowInit) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}

		writeError(w, http.StatusBadGateway, err.Error())

		return
	}

	if fresh {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sid,
			Path:     "/api",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_code":        info.UserCode,
		"verification_uri": info.VerificationURI,
		"expires_in":       int(info.ExpiresIn.Seconds()),
		"interval":         int(info.Interval.Seconds()),
	})
}

// stateLabel maps flow states to the labels the desktop client expects.
// Authenticated reports as "success".
func stateLabel(state authflow.State) string {
	if state == authflow.StateAuthenticated {
		return "success"
	}

	return string(state)
}

func (s *apiServer) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionID(r)

	status, err := s.mgr.PollStatus(r.Context(), sid)
	if err != nil {
		if errors.Is(err, authflow.ErrNoSession) {
			writeError(w, http.StatusNotFound, "no authentication flow in progress")
			return
		}

		writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  stateLabel(status.State),
		"message": status.Message,
	})
}

func (s *apiServer) handleAuthExtend(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionID(r)

	if err := s.mgr.ExtendTimeout(sid, extendBy); err != nil {
		if errors.Is(err, authflow.ErrNoSession) {
			writeError(w, http.StatusNotFound, "no authentication flow in progress")
			return
		}

		writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"extended":   true,
		"extra_secs": int(extendBy.Seconds()),
	})
}

func (s *apiServer) handleAuthCancel(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionID(r)
	s.mgr.Cancel(sid)

	writeJSON(w, http.StatusOK, map[string]bool{"canceled": true})
}

func (s *apiServer) handleAuthStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"authenticated": s.tokens.HasIdentity(),
	})
}

// engine builds a sync engine over the server's shared components.
func (s *apiServer) engine() *syncer.Engine {
	return syncer.New(newGraphClient(s.tokens, s.logger), s.names, s.logger)
}

func (s *apiServer) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReplaceAll bool `json:"replace_all"`
	}

	// An empty body means a plain push.
	_ = json.NewDecoder(r.Body).Decode(&req)

	local, err := notes.LoadFile(resolvedCfg.NotesPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := s.engine().Push(r.Context(), local, syncer.PushOptions{TimestampNames: req.ReplaceAll})
	if err != nil {
		s.writeSyncError(w, err)
		return
	}

	if err := notes.SaveFile(resolvedCfg.NotesPath, result.Notes); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"created": result.Created,
		"updated": result.Updated,
		"failed":  len(result.Failed),
	})
}

func (s *apiServer) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategy string `json:"strategy"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	strategy, err := syncer.ParseStrategy(req.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	local, err := notes.LoadFile(resolvedCfg.NotesPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := s.engine().Pull(r.Context(), local, strategy)
	if err != nil {
		s.writeSyncError(w, err)
		return
	}

	if err := notes.SaveFile(resolvedCfg.NotesPath, result.Notes); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"notes":  len(result.Notes),
		"failed": len(result.Failed),
	})
}

func (s *apiServer) handleCleanupUnused(w http.ResponseWriter, r *http.Request) {
	local, err := notes.LoadFile(resolvedCfg.NotesPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	referenced := make([]string, 0, len(local))

	for _, n := range local {
		if n.RemoteID != "" {
			referenced = append(referenced, n.RemoteID)
		}
	}

	resolver := syncer.NewResolver(newGraphClient(s.tokens, s.logger), s.logger)

	unused, err := resolver.FindUnused(r.Context(), referenced)
	if err != nil {
		s.writeSyncError(w, err)
		return
	}

	cr := resolver.DeleteUnused(r.Context(), unused)

	writeJSON(w, http.StatusOK, map[string]int{
		"deleted": cr.Deleted,
		"failed":  len(cr.Errors),
	})
}

// writeSyncError maps sync failures to HTTP statuses: a missing identity
// is the client's problem (401), everything else is upstream trouble.
func (s *apiServer) writeSyncError(w http.ResponseWriter, err error) {
	if errors.Is(err, tokenstore.ErrNoIdentity) || errors.Is(err, graph.ErrNotAuthenticated) {
		writeError(w, http.StatusUnauthorized, "not authenticated — complete the device flow first")
		return
	}

	writeError(w, http.StatusBadGateway, err.Error())
}
