package notes

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalPayloadWritesBothBodyFields(t *testing.T) {
	n := Note{
		ID:       "abc-123",
		Title:    "Groceries",
		Text:     "milk\neggs",
		Created:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Modified: time.Date(2026, 1, 3, 3, 4, 5, 0, time.UTC),
		Owner:    "user@example.com",
	}

	data, err := MarshalPayload(n, time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	// Web clients read "text", desktop clients read "content".
	assert.Equal(t, "milk\neggs", raw["text"])
	assert.Equal(t, "milk\neggs", raw["content"])
	assert.Equal(t, "abc-123", raw["note_id"])
	assert.Equal(t, "abc-123", raw["web_note_id"])
	assert.Equal(t, "2026-01-04T00:00:00Z", raw["synced_at"])
}

func TestParsePayloadPrefersContentOverText(t *testing.T) {
	data := []byte(`{"content": "desktop body", "text": "web body", "note_id": "n1"}`)

	n, err := ParsePayload(data)
	require.NoError(t, err)

	assert.Equal(t, "desktop body", n.Text)
	assert.Equal(t, "n1", n.ID)
	assert.Equal(t, StorageCloud, n.Storage)
}

func TestParsePayloadFallsBackToTextAndWebID(t *testing.T) {
	data := []byte(`{"text": "web body", "web_note_id": "w7"}`)

	n, err := ParsePayload(data)
	require.NoError(t, err)

	assert.Equal(t, "web body", n.Text)
	assert.Equal(t, "w7", n.ID)
}

func TestParsePayloadTimestampDialects(t *testing.T) {
	tests := []struct {
		name string
		json string
		want time.Time
	}{
		{
			name: "rfc3339",
			json: `{"text": "x", "modified": "2026-02-01T10:00:00Z"}`,
			want: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "bare iso without zone",
			json: `{"text": "x", "modified": "2026-02-01T10:00:00"}`,
			want: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "numeric epoch seconds",
			json: `{"text": "x", "modified": 1767261600}`,
			want: time.Unix(1767261600, 0).UTC(),
		},
		{
			name: "legacy last_modified epoch",
			json: `{"text": "x", "last_modified": 1767261600}`,
			want: time.Unix(1767261600, 0).UTC(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParsePayload([]byte(tt.json))
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(n.Modified), "got %v, want %v", n.Modified, tt.want)
		})
	}
}

func TestParsePayloadModifiedPrefersModernField(t *testing.T) {
	data := []byte(`{"text": "x", "modified": "2026-02-01T10:00:00Z", "last_modified": 1000}`)

	n, err := ParsePayload(data)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), n.Modified.UTC())
}

func TestParsePayloadRejectsMalformedJSON(t *testing.T) {
	_, err := ParsePayload([]byte(`{"text": `))
	assert.Error(t, err)
}

func TestParsePayloadRejectsBadTimestamp(t *testing.T) {
	_, err := ParsePayload([]byte(`{"text": "x", "modified": "yesterday"}`))
	assert.Error(t, err)
}

func TestPayloadRoundTrip(t *testing.T) {
	orig := Note{
		ID:       "rt-1",
		Title:    "Round trip",
		Text:     "body",
		Created:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Modified: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Owner:    "o@example.com",
	}

	data, err := MarshalPayload(orig, time.Now())
	require.NoError(t, err)

	got, err := ParsePayload(data)
	require.NoError(t, err)

	assert.Equal(t, orig.ID, got.ID)
	assert.Equal(t, orig.Title, got.Title)
	assert.Equal(t, orig.Text, got.Text)
	assert.True(t, orig.Modified.Equal(got.Modified))
	assert.Equal(t, orig.Owner, got.Owner)
}
