package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jwinnathayden/noted-sync/internal/graph"
	"github.com/jwinnathayden/noted-sync/internal/notes"
)

// Resolver finds and removes remote note files that the local set no
// longer needs: files no local note references, and content duplicates
// left behind by renames. Deletion is always a separate, explicit step
// from discovery so callers can confirm before anything is removed.
type Resolver struct {
	remote RemoteStore
	logger *slog.Logger
}

// NewResolver creates a Resolver. logger may be nil.
func NewResolver(remote RemoteStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{remote: remote, logger: logger}
}

// CleanupResult counts the outcome of one deletion pass.
type CleanupResult struct {
	Deleted int
	Errors  []NoteError
}

// FindUnused lists remote note files whose remote id appears in no entry
// of referenced. Files currently referenced are never returned, even when
// their content duplicates another file's.
func (r *Resolver) FindUnused(ctx context.Context, referenced []string) ([]graph.RemoteNote, error) {
	listing, err := r.remote.ListNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncer: listing remote notes for cleanup: %w", err)
	}

	known := make(map[string]struct{}, len(referenced))
	for _, id := range referenced {
		known[id] = struct{}{}
	}

	var unused []graph.RemoteNote

	for _, rn := range listing {
		if _, ok := known[rn.ID]; !ok {
			unused = append(unused, rn)
		}
	}

	r.logger.Info("scanned for unused remote notes",
		slog.Int("remote", len(listing)),
		slog.Int("unused", len(unused)),
	)

	return unused, nil
}

// FindDuplicates groups remote note files by content. Content identity is
// the hash of the trimmed note text, so whitespace-only differences and
// metadata like sync timestamps do not split a group. Each returned group
// has at least two members and is ordered newest first; the head is the
// copy a deletion pass keeps.
//
// Files that cannot be downloaded or decoded are skipped with a warning;
// a partial scan is still useful.
func (r *Resolver) FindDuplicates(ctx context.Context) ([][]graph.RemoteNote, error) {
	listing, err := r.remote.ListNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncer: listing remote notes for duplicate scan: %w", err)
	}

	byHash := make(map[string][]graph.RemoteNote)

	for _, rn := range listing {
		data, err := r.remote.GetNote(ctx, rn.ID)
		if err != nil {
			r.logger.Warn("skipping undownloadable note in duplicate scan",
				slog.String("remote_id", rn.ID),
				slog.String("error", err.Error()),
			)

			continue
		}

		n, err := notes.ParsePayload(data)
		if err != nil {
			r.logger.Warn("skipping undecodable note in duplicate scan",
				slog.String("remote_id", rn.ID),
				slog.String("error", err.Error()),
			)

			continue
		}

		h := contentHash(n.Text)
		byHash[h] = append(byHash[h], rn)
	}

	var groups [][]graph.RemoteNote

	for _, group := range byHash {
		if len(group) < 2 {
			continue
		}

		sort.Slice(group, func(i, j int) bool {
			return group[i].ModifiedAt.After(group[j].ModifiedAt)
		})

		groups = append(groups, group)
	}

	// Stable output order for display and tests.
	sort.Slice(groups, func(i, j int) bool {
		return groups[i][0].Name < groups[j][0].Name
	})

	r.logger.Info("scanned for duplicate remote notes",
		slog.Int("remote", len(listing)),
		slog.Int("groups", len(groups)),
	)

	return groups, nil
}

// DeleteUnused removes the given remote files one by one, continuing past
// individual failures.
func (r *Resolver) DeleteUnused(ctx context.Context, entries []graph.RemoteNote) CleanupResult {
	var result CleanupResult

	for _, rn := range entries {
		if err := r.remote.DeleteNote(ctx, rn.ID); err != nil {
			r.logger.Warn("failed to delete unused remote note",
				slog.String("remote_id", rn.ID),
				slog.String("name", rn.Name),
				slog.String("error", err.Error()),
			)

			result.Errors = append(result.Errors, NoteError{NoteID: rn.ID, Err: err})

			continue
		}

		result.Deleted++
	}

	r.logger.Info("deleted unused remote notes",
		slog.Int("deleted", result.Deleted),
		slog.Int("failed", len(result.Errors)),
	)

	return result
}

// DeleteDuplicates removes every member of each group except the newest
// (the group head), continuing past individual failures.
func (r *Resolver) DeleteDuplicates(ctx context.Context, groups [][]graph.RemoteNote) CleanupResult {
	var result CleanupResult

	for _, group := range groups {
		for _, rn := range group[1:] {
			if err := r.remote.DeleteNote(ctx, rn.ID); err != nil {
				r.logger.Warn("failed to delete duplicate remote note",
					slog.String("remote_id", rn.ID),
					slog.String("name", rn.Name),
					slog.String("error", err.Error()),
				)

				result.Errors = append(result.Errors, NoteError{NoteID: rn.ID, Err: err})

				continue
			}

			result.Deleted++
		}
	}

	r.logger.Info("deleted duplicate remote notes",
		slog.Int("deleted", result.Deleted),
		slog.Int("failed", len(result.Errors)),
	)

	return result
}

// contentHash hashes trimmed note text for duplicate grouping.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}
