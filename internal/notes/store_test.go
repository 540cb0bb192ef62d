package notes

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileMissingIsEmptySet(t *testing.T) {
	ns, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, ns)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.json")

	in := []Note{
		{ID: "b", Title: "Second", Text: "two", Modified: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "a", Title: "First", Text: "one", RemoteID: "r1"},
	}

	require.NoError(t, SaveFile(path, in))

	out, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, out, 2)

	// LoadFile returns notes sorted by id.
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)

	// A remote id forces cloud storage kind.
	assert.Equal(t, StorageCloud, out[0].Storage)
	assert.Equal(t, StorageLocal, out[1].Storage)
}

func TestSaveFileOwnerOnlyPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes not meaningful on windows")
	}

	path := filepath.Join(t.TempDir(), "notes.json")
	require.NoError(t, SaveFile(path, []Note{{ID: "a", Text: "x"}}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadFileRejectsCorruptStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestNoteEmpty(t *testing.T) {
	assert.True(t, Note{Text: "   \n\t  "}.Empty())
	assert.False(t, Note{Text: "x"}.Empty())
}

func TestTouchIsMonotonic(t *testing.T) {
	n := Note{Modified: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}

	n.Touch(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), n.Modified)

	n.Touch(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), n.Modified)
}
