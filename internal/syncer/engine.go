// Package syncer reconciles the local note set with the cloud app folder.
// It decides create-vs-update on push, applies the replace and merge pull
// strategies, and derives stable remote filenames. The remote store is
// external shared state with no locking: conflict avoidance comes entirely
// from the naming policy and timestamp comparison, and the last writer
// wins at the store level.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jwinnathayden/noted-sync/internal/graph"
	"github.com/jwinnathayden/noted-sync/internal/ledger"
	"github.com/jwinnathayden/noted-sync/internal/notes"
)

// RemoteStore is the transport surface the engine needs. *graph.Client is
// the real implementation.
type RemoteStore interface {
	ListNotes(ctx context.Context) ([]graph.RemoteNote, error)
	GetNote(ctx context.Context, remoteID string) ([]byte, error)
	PutNote(ctx context.Context, name string, payload []byte) (string, error)
	UpdateNote(ctx context.Context, remoteID string, payload []byte) (string, error)
	DeleteNote(ctx context.Context, remoteID string) error
}

// NameLedger pins note ids to the remote name they were first pushed
// under. *ledger.Store is the real implementation.
type NameLedger interface {
	Get(ctx context.Context, noteID string) (ledger.Mapping, bool, error)
	Put(ctx context.Context, m ledger.Mapping) error
}

// Strategy selects how Pull combines remote and local state.
type Strategy string

const (
	// StrategyReplace discards the local set in favor of the remote one.
	StrategyReplace Strategy = "replace"
	// StrategyMerge keeps, per identity, whichever side was modified most
	// recently; unmatched local notes are always preserved.
	StrategyMerge Strategy = "merge"
)

// ParseStrategy validates a strategy name from config or API input.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyReplace, StrategyMerge:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("syncer: unknown pull strategy %q (want replace or merge)", s)
	}
}

// NoteError records one note's failure inside an otherwise successful
// batch. Batches always run to completion; failures are collected, never
// thrown.
type NoteError struct {
	NoteID string
	Err    error
}

// PushResult summarizes one push batch. Notes carries the input notes with
// freshly assigned remote ids.
type PushResult struct {
	Created int
	Updated int
	Failed  []NoteError
	Notes   []notes.Note
}

// PushOptions tunes a push batch.
type PushOptions struct {
	// TimestampNames appends a unix-timestamp suffix to names of newly
	// created remote files. Used by replace-all pushes so the previous
	// revision is never silently overwritten before the new one is
	// confirmed written.
	TimestampNames bool
}

// PullResult summarizes one pull. Notes is the resulting local set.
type PullResult struct {
	Notes  []notes.Note
	Failed []NoteError
}

// Engine is the merge/naming layer on top of the transport client.
type Engine struct {
	remote RemoteStore
	names  NameLedger
	logger *slog.Logger

	// now is a test hook for timestamp-derived filenames.
	now func() time.Time
}

// New creates an Engine. logger may be nil.
func New(remote RemoteStore, names NameLedger, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		remote: remote,
		names:  names,
		logger: logger,
		now:    time.Now,
	}
}

// Push uploads every local note with non-empty content, updating the
// remote counterpart when one is known and creating otherwise. Notes are
// processed in stable id order, sequentially, so repeated runs are
// reproducible and the provider is not hit with request bursts.
//
// A push with zero eligible notes is a successful empty result.
func (e *Engine) Push(ctx context.Context, local []notes.Note, opts PushOptions) (*PushResult, error) {
	listing, err := e.remote.ListNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncer: listing remote notes before push: %w", err)
	}

	byID := make(map[string]graph.RemoteNote, len(listing))
	byName := make(map[string]graph.RemoteNote, len(listing))

	for _, rn := range listing {
		byID[rn.ID] = rn
		byName[rn.Name] = rn
	}

	ordered := make([]notes.Note, len(local))
	copy(ordered, local)
	notes.SortByID(ordered)

	result := &PushResult{Notes: make([]notes.Note, 0, len(ordered))}

	for _, n := range ordered {
		if n.Empty() {
			e.logger.Debug("skipping empty note", slog.String("note_id", n.ID))
			result.Notes = append(result.Notes, n)

			continue
		}

		pushed, created, err := e.pushOne(ctx, n, byID, byName, opts)
		if err != nil {
			e.logger.Warn("push failed for note",
				slog.String("note_id", n.ID),
				slog.String("error", err.Error()),
			)

			result.Failed = append(result.Failed, NoteError{NoteID: n.ID, Err: err})
			result.Notes = append(result.Notes, n)

			continue
		}

		if created {
			result.Created++
		} else {
			result.Updated++
		}

		result.Notes = append(result.Notes, pushed)
	}

	e.logger.Info("push complete",
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("failed", len(result.Failed)),
	)

	return result, nil
}

// pushOne uploads a single note, resolving its remote target in order of
// confidence: the note's own remote id, the ledger mapping, then a
// derived-name match against the current listing. A stale remote id whose
// file no longer exists falls through to create.
func (e *Engine) pushOne(
	ctx context.Context,
	n notes.Note,
	byID, byName map[string]graph.RemoteNote,
	opts PushOptions,
) (notes.Note, bool, error) {
	payload, err := notes.MarshalPayload(n, e.now())
	if err != nil {
		return n, false, err
	}

	remoteID := n.RemoteID
	remoteName := ""

	if remoteID == "" && e.names != nil {
		if m, ok, lerr := e.names.Get(ctx, n.ID); lerr == nil && ok {
			remoteID = m.RemoteID
			remoteName = m.RemoteName
		}
	}

	if remoteID != "" {
		if existing, ok := byID[remoteID]; ok {
			remoteName = existing.Name
		} else {
			// The remote file is gone — deleted from another device.
			// Recreate instead of updating a dangling id.
			remoteID = ""
		}
	}

	created := false

	if remoteID == "" {
		remoteName = deriveRemoteName(n, opts.TimestampNames, e.now())
		if existing, ok := byName[remoteName]; ok {
			remoteID = existing.ID
		}
	}

	var newID string

	if remoteID != "" {
		newID, err = e.remote.UpdateNote(ctx, remoteID, payload)
	} else {
		created = true
		newID, err = e.remote.PutNote(ctx, remoteName, payload)
	}

	if err != nil {
		return n, false, err
	}

	n.RemoteID = newID
	n.Storage = notes.StorageCloud

	if e.names != nil {
		m := ledger.Mapping{
			NoteID:     n.ID,
			RemoteID:   newID,
			RemoteName: remoteName,
			UpdatedAt:  e.now(),
		}
		if lerr := e.names.Put(ctx, m); lerr != nil {
			e.logger.Warn("failed to record name mapping",
				slog.String("note_id", n.ID),
				slog.String("error", lerr.Error()),
			)
		}
	}

	return n, created, nil
}

// Pull downloads the remote note set and combines it with the local one
// according to the strategy. Remote entries are processed in listing order
// (newest first), sequentially. Per-note download or decode failures are
// collected; the pull completes.
func (e *Engine) Pull(ctx context.Context, local []notes.Note, strategy Strategy) (*PullResult, error) {
	listing, err := e.remote.ListNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncer: listing remote notes for pull: %w", err)
	}

	result := &PullResult{}

	var remoteNotes []notes.Note

	for _, entry := range listing {
		n, err := e.fetchRemote(ctx, entry)
		if err != nil {
			e.logger.Warn("failed to fetch remote note",
				slog.String("remote_id", entry.ID),
				slog.String("name", entry.Name),
				slog.String("error", err.Error()),
			)

			result.Failed = append(result.Failed, NoteError{NoteID: entry.ID, Err: err})

			continue
		}

		if n.Empty() {
			e.logger.Debug("skipping empty remote note", slog.String("remote_id", entry.ID))
			continue
		}

		remoteNotes = append(remoteNotes, n)
	}

	switch strategy {
	case StrategyReplace:
		result.Notes = remoteNotes
	case StrategyMerge:
		result.Notes = mergeNotes(local, remoteNotes)
	default:
		return nil, fmt.Errorf("syncer: unknown pull strategy %q", strategy)
	}

	e.logger.Info("pull complete",
		slog.String("strategy", string(strategy)),
		slog.Int("remote", len(remoteNotes)),
		slog.Int("result", len(result.Notes)),
		slog.Int("failed", len(result.Failed)),
	)

	return result, nil
}

// fetchRemote downloads and decodes one remote note, filling gaps in the
// payload from the listing entry: missing ids get a fresh one, a missing
// modification time falls back to the store's, and a missing title falls
// back to the filename.
func (e *Engine) fetchRemote(ctx context.Context, entry graph.RemoteNote) (notes.Note, error) {
	data, err := e.remote.GetNote(ctx, entry.ID)
	if err != nil {
		return notes.Note{}, err
	}

	n, err := notes.ParsePayload(data)
	if err != nil {
		return notes.Note{}, err
	}

	n.RemoteID = entry.ID

	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	if n.Modified.IsZero() {
		n.Modified = entry.ModifiedAt
	}

	if n.Title == "" {
		n.Title = trimNoteExt(entry.Name)
	}

	return n, nil
}

// mergeNotes applies per-identity last-writer-wins. Identity matches by
// note id first, then by remote id for notes pulled before ids were
// stamped into payloads. Timestamps are compared as parsed, timezone-aware
// times; the remote copy wins only when strictly newer. Local notes with
// no remote counterpart are preserved, remote notes with no local
// counterpart are appended.
func mergeNotes(local, remote []notes.Note) []notes.Note {
	out := make([]notes.Note, len(local))
	copy(out, local)

	byID := make(map[string]int, len(out))
	byRemoteID := make(map[string]int, len(out))

	for i, n := range out {
		byID[n.ID] = i

		if n.RemoteID != "" {
			byRemoteID[n.RemoteID] = i
		}
	}

	for _, rn := range remote {
		idx, ok := byID[rn.ID]
		if !ok {
			idx, ok = byRemoteID[rn.RemoteID]
		}

		if !ok {
			out = append(out, rn)
			continue
		}

		if rn.Modified.After(out[idx].Modified) {
			// Keep the local identity: the remote copy may have been
			// matched through the remote handle alone.
			rn.ID = out[idx].ID
			out[idx] = rn
		}
	}

	return out
}
