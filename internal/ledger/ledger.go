// Package ledger persists the stable local→remote name mapping. Remote
// filenames are derived from note content, so a note whose first line
// changes would otherwise be pushed under a fresh name, orphaning the old
// file. The ledger pins each note id to the remote id and name it was
// first pushed under, making the mapping survive restarts and renames.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// busyTimeoutMS is how long SQLite waits on a locked database before
// returning SQLITE_BUSY.
const busyTimeoutMS = 5000

// Mapping is one note's pinned remote identity.
type Mapping struct {
	NoteID     string
	RemoteID   string
	RemoteName string
	UpdatedAt  time.Time
}

// Store is the SQLite-backed mapping store. Use ":memory:" for tests.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	getStmt    *sql.Stmt
	putStmt    *sql.Stmt
	deleteStmt *sql.Stmt
	allStmt    *sql.Stmt
}

// Open opens (creating if necessary) the ledger database at path, applies
// pending migrations, and prepares the statement set.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("ledger: creating directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database: %w", err)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}
	if err := s.prepare(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("opened name ledger", slog.String("path", path))

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS),
		"PRAGMA synchronous = NORMAL",
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("ledger: %s: %w", p, err)
		}
	}

	return nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ledger: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("ledger: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("ledger: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *Store) prepare(ctx context.Context) error {
	var err error

	if s.getStmt, err = s.db.PrepareContext(ctx,
		"SELECT remote_id, remote_name, updated_at FROM note_names WHERE note_id = ?"); err != nil {
		return fmt.Errorf("ledger: preparing get: %w", err)
	}

	if s.putStmt, err = s.db.PrepareContext(ctx,
		`INSERT INTO note_names (note_id, remote_id, remote_name, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (note_id) DO UPDATE SET
		   remote_id = excluded.remote_id,
		   remote_name = excluded.remote_name,
		   updated_at = excluded.updated_at`); err != nil {
		return fmt.Errorf("ledger: preparing put: %w", err)
	}

	if s.deleteStmt, err = s.db.PrepareContext(ctx,
		"DELETE FROM note_names WHERE note_id = ?"); err != nil {
		return fmt.Errorf("ledger: preparing delete: %w", err)
	}

	if s.allStmt, err = s.db.PrepareContext(ctx,
		"SELECT note_id, remote_id, remote_name, updated_at FROM note_names ORDER BY note_id"); err != nil {
		return fmt.Errorf("ledger: preparing all: %w", err)
	}

	return nil
}

// Get returns the mapping for a note id, with ok=false when none exists.
func (s *Store) Get(ctx context.Context, noteID string) (Mapping, bool, error) {
	var (
		m     Mapping
		epoch int64
	)

	m.NoteID = noteID

	err := s.getStmt.QueryRowContext(ctx, noteID).Scan(&m.RemoteID, &m.RemoteName, &epoch)
	if errors.Is(err, sql.ErrNoRows) {
		return Mapping{}, false, nil
	}

	if err != nil {
		return Mapping{}, false, fmt.Errorf("ledger: reading mapping for %s: %w", noteID, err)
	}

	m.UpdatedAt = time.Unix(epoch, 0).UTC()

	return m, true, nil
}

// Put inserts or updates a mapping.
func (s *Store) Put(ctx context.Context, m Mapping) error {
	if _, err := s.putStmt.ExecContext(ctx, m.NoteID, m.RemoteID, m.RemoteName, m.UpdatedAt.Unix()); err != nil {
		return fmt.Errorf("ledger: writing mapping for %s: %w", m.NoteID, err)
	}

	return nil
}

// Delete removes a mapping. Deleting an unknown note id is a no-op.
func (s *Store) Delete(ctx context.Context, noteID string) error {
	if _, err := s.deleteStmt.ExecContext(ctx, noteID); err != nil {
		return fmt.Errorf("ledger: deleting mapping for %s: %w", noteID, err)
	}

	return nil
}

// All returns every mapping, ordered by note id.
func (s *Store) All(ctx context.Context) ([]Mapping, error) {
	rows, err := s.allStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing mappings: %w", err)
	}
	defer rows.Close()

	var ms []Mapping

	for rows.Next() {
		var (
			m     Mapping
			epoch int64
		)

		if err := rows.Scan(&m.NoteID, &m.RemoteID, &m.RemoteName, &epoch); err != nil {
			return nil, fmt.Errorf("ledger: scanning mapping: %w", err)
		}

		m.UpdatedAt = time.Unix(epoch, 0).UTC()
		ms = append(ms, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating mappings: %w", err)
	}

	return ms, nil
}

// Close releases prepared statements and the database handle.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.getStmt, s.putStmt, s.deleteStmt, s.allStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("ledger: closing database: %w", err)
	}

	return nil
}
