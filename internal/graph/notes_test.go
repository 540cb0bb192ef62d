package graph

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListNotesFiltersAndSorts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/drive/special/approot/children", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"value": [
				{"id": "old", "name": "old_note.json", "size": 10, "lastModifiedDateTime": "2026-01-01T00:00:00Z"},
				{"id": "pic", "name": "photo.png", "size": 999, "lastModifiedDateTime": "2026-06-01T00:00:00Z"},
				{"id": "new", "name": "new_note.json", "size": 20, "lastModifiedDateTime": "2026-05-01T00:00:00Z"}
			]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, staticToken{tok: "t"})

	entries, err := c.ListNotes(context.Background())
	require.NoError(t, err)

	// The png is filtered out; note files come back newest first.
	require.Len(t, entries, 2)
	assert.Equal(t, "new", entries[0].ID)
	assert.Equal(t, "old", entries[1].ID)
	assert.Equal(t, int64(20), entries[0].Size)
}

func TestListNotesFollowsPagination(t *testing.T) {
	var srv *httptest.Server

	page := 0

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		page++
		w.Header().Set("Content-Type", "application/json")

		if page == 1 {
			fmt.Fprintf(w, `{
				"value": [{"id": "a", "name": "a.json", "lastModifiedDateTime": "2026-01-01T00:00:00Z"}],
				"@odata.nextLink": "%s/me/drive/special/approot/children?$skiptoken=x"
			}`, srv.URL)

			return
		}

		_, _ = w.Write([]byte(`{
			"value": [{"id": "b", "name": "b.json", "lastModifiedDateTime": "2026-02-01T00:00:00Z"}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, staticToken{tok: "t"})

	entries, err := c.ListNotes(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, page)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].ID)
}

func TestListNotesMalformedTimestampFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"value": [{"id": "a", "name": "a.json", "lastModifiedDateTime": "not-a-time"}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, staticToken{tok: "t"})

	entries, err := c.ListNotes(context.Background())
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.False(t, entries[0].ModifiedAt.IsZero())
}

func TestGetNote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/drive/items/item-1/content", r.URL.Path)
		_, _ = w.Write([]byte(`{"text": "hello"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, staticToken{tok: "t"})

	data, err := c.GetNote(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, `{"text": "hello"}`, string(data))
}

func TestPutNoteCreatesByName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Contains(t, r.URL.Path, "/me/drive/special/approot:/groceries_ab12cd34.json:/content")

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, `{"text": "milk"}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "new-item", "name": "groceries_ab12cd34.json"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, staticToken{tok: "t"})

	id, err := c.PutNote(context.Background(), "groceries_ab12cd34.json", []byte(`{"text": "milk"}`))
	require.NoError(t, err)
	assert.Equal(t, "new-item", id)
}

func TestUpdateNoteOverwritesByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/me/drive/items/item-9/content", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "item-9", "name": "whatever.json"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, staticToken{tok: "t"})

	id, err := c.UpdateNote(context.Background(), "item-9", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "item-9", id)
}

func TestPutContentMissingIDFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name": "x.json"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, staticToken{tok: "t"})

	_, err := c.PutNote(context.Background(), "x.json", []byte(`{}`))
	assert.ErrorContains(t, err, "missing item id")
}

func TestDeleteNote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/me/drive/items/item-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(srv, staticToken{tok: "t"})

	require.NoError(t, c.DeleteNote(context.Background(), "item-1"))
}

func TestMeEmailFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "u1",
			"displayName": "Pat Example",
			"mail": "",
			"userPrincipalName": "pat@example.com"
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, staticToken{tok: "t"})

	user, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "pat@example.com", user.Email)
}
