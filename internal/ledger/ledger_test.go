package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestGetMissingMapping(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := Mapping{
		NoteID:     "n1",
		RemoteID:   "r1",
		RemoteName: "groceries_ab12cd34.json",
		UpdatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, s.Put(ctx, in))

	got, ok, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in, got)
}

func TestPutUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Mapping{NoteID: "n1", RemoteID: "r1", RemoteName: "a.json", UpdatedAt: time.Unix(100, 0)}))
	require.NoError(t, s.Put(ctx, Mapping{NoteID: "n1", RemoteID: "r2", RemoteName: "b.json", UpdatedAt: time.Unix(200, 0)}))

	got, ok, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r2", got.RemoteID)
	assert.Equal(t, "b.json", got.RemoteName)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Mapping{NoteID: "n1", RemoteID: "r1", RemoteName: "a.json", UpdatedAt: time.Unix(1, 0)}))
	require.NoError(t, s.Delete(ctx, "n1"))

	_, ok, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "n1"))
}

func TestAllOrderedByNoteID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Mapping{NoteID: "b", RemoteID: "r2", RemoteName: "b.json", UpdatedAt: time.Unix(2, 0)}))
	require.NoError(t, s.Put(ctx, Mapping{NoteID: "a", RemoteID: "r1", RemoteName: "a.json", UpdatedAt: time.Unix(1, 0)}))

	ms, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "a", ms[0].NoteID)
	assert.Equal(t, "b", ms[1].NoteID)
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, Mapping{NoteID: "n1", RemoteID: "r1", RemoteName: "a.json", UpdatedAt: time.Unix(42, 0)}))
	require.NoError(t, s.Close())

	// Reopen: migrations are idempotent, data survives.
	s2, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer s2.Close()

	got, ok, err := s2.Get(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r1", got.RemoteID)
}
