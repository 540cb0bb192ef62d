// Package tokenstore is the durable credential cache. It owns the on-disk
// token file exclusively: the flow manager deposits redeemed tokens here,
// and the API client asks it for a valid bearer token before every call.
// Silent refresh goes through the oauth2 refresh-token machinery and never
// blocks on user interaction.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// File permissions restrict token files to owner-only read/write.
const (
	filePerms = 0o600
	dirPerms  = 0o700
)

// ErrNoIdentity is returned when no cached credential exists or silent
// refresh failed. Callers treat it as "interactive login required".
var ErrNoIdentity = errors.New("tokenstore: no cached identity")

// cacheFile is the on-disk JSON wrapper around the OAuth token.
type cacheFile struct {
	Token *oauth2.Token `json:"token"`
}

// Store is a thread-safe, write-on-change token cache backed by one file.
type Store struct {
	path   string
	cfg    *oauth2.Config
	logger *slog.Logger

	mu    sync.Mutex
	tok   *oauth2.Token
	dirty bool

	// refresh collapses concurrent silent-refresh attempts into one
	// provider round trip.
	refresh singleflight.Group
}

// New creates a Store for the given cache path. cfg supplies the refresh
// endpoint and client id. logger may be nil.
func New(path string, cfg *oauth2.Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{path: path, cfg: cfg, logger: logger}
}

// Load reads the cache file into memory. I/O and decode errors are
// non-fatal: they are logged and the store starts with no identity, the
// same as a fresh install.
func (s *Store) Load() {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no token cache found, starting fresh", slog.String("path", s.path))
		return
	}

	if err != nil {
		s.logger.Warn("failed to read token cache, treating as no identity",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		return
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil || cf.Token == nil {
		s.logger.Warn("token cache is corrupt, treating as no identity",
			slog.String("path", s.path),
		)

		return
	}

	s.mu.Lock()
	s.tok = cf.Token
	s.dirty = false
	s.mu.Unlock()

	s.logger.Info("loaded token cache",
		slog.String("path", s.path),
		slog.Time("expiry", cf.Token.Expiry),
		slog.Bool("expired", !cf.Token.Expiry.IsZero() && cf.Token.Expiry.Before(time.Now())),
	)
}

// SetToken replaces the cached token and marks the cache dirty.
func (s *Store) SetToken(tok *oauth2.Token) {
	s.mu.Lock()
	s.tok = tok
	s.dirty = true
	s.mu.Unlock()
}

// GetValidToken returns a currently valid access token, silently refreshing
// through the cached refresh credential when needed. It never prompts.
// Returns ErrNoIdentity when there is nothing to refresh from or the
// provider rejected the refresh.
func (s *Store) GetValidToken(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	tok := s.tok
	s.mu.Unlock()

	if tok == nil {
		return nil, ErrNoIdentity
	}

	if tok.Valid() {
		return tok, nil
	}

	v, err, _ := s.refresh.Do("refresh", func() (any, error) {
		return s.refreshToken(ctx)
	})
	if err != nil {
		return nil, err
	}

	refreshed, ok := v.(*oauth2.Token)
	if !ok {
		return nil, ErrNoIdentity
	}

	return refreshed, nil
}

// refreshToken performs one silent refresh and persists the result.
func (s *Store) refreshToken(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	tok := s.tok
	s.mu.Unlock()

	if tok == nil {
		return nil, ErrNoIdentity
	}

	// Re-check under singleflight: another caller may have refreshed while
	// we waited for the group slot.
	if tok.Valid() {
		return tok, nil
	}

	newTok, err := s.cfg.TokenSource(ctx, tok).Token()
	if err != nil {
		s.logger.Warn("silent token refresh failed",
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("%w: silent refresh failed: %v", ErrNoIdentity, err)
	}

	s.SetToken(newTok)

	// A failed persist keeps the refreshed token in memory; an unsynced
	// cache is acceptable, losing a live token is not.
	if perr := s.Persist(); perr != nil {
		s.logger.Warn("failed to persist refreshed token",
			slog.String("path", s.path),
			slog.String("error", perr.Error()),
		)
	}

	s.logger.Debug("token refreshed silently", slog.Time("expiry", newTok.Expiry))

	return newTok, nil
}

// Token implements the bearer-token source the API client consumes.
func (s *Store) Token() (string, error) {
	tok, err := s.GetValidToken(context.Background())
	if err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// Persist writes the cache to disk if it has changed since the last write.
// Writes are atomic (temp file + rename) with owner-only permissions.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(cacheFile{Token: s.tok}, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: encoding cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	if mkErr := os.MkdirAll(dir, dirPerms); mkErr != nil {
		return fmt.Errorf("tokenstore: creating directory %s: %w", dir, mkErr)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, filePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("tokenstore: renaming: %w", err)
	}

	success = true
	s.dirty = false

	return nil
}

// Clear drops the in-memory identity and deletes the on-disk cache.
// Used by logout. Returns nil if no cache file exists.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.tok = nil
	s.dirty = false
	s.mu.Unlock()

	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no token cache to remove (already logged out)",
			slog.String("path", s.path),
		)

		return nil
	}

	if err != nil {
		return fmt.Errorf("tokenstore: removing cache: %w", err)
	}

	s.logger.Info("removed token cache", slog.String("path", s.path))

	return nil
}

// HasIdentity reports whether a cached credential exists, without
// attempting a refresh.
func (s *Store) HasIdentity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tok != nil
}
