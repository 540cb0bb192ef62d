package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// The note store is the application's sandboxed "app folder" in the
// user's drive. Note files carry the .json extension that marks them as
// application-owned; everything else in the folder is ignored.
const (
	appFolderPath = "/me/drive/special/approot"
	NoteExt       = ".json"
)

// listPageSize is the $top value for children listings (API maximum).
const listPageSize = 200

// RemoteNote is an ephemeral projection of one entry in the app folder
// listing. Recomputed on every sync, never persisted.
type RemoteNote struct {
	ID         string
	Name       string
	ModifiedAt time.Time
	Size       int64
}

// User identifies the signed-in account.
type User struct {
	ID          string
	DisplayName string
	Email       string
}

// driveItem mirrors the fields of the API's driveItem JSON that the note
// store needs.
type driveItem struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Size                 int64  `json:"size"`
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
}

type listChildrenResponse struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

type userResponse struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// ListNotes lists the app folder, filtered to note files and sorted by
// modification time, newest first. Pagination is followed automatically.
func (c *Client) ListNotes(ctx context.Context) ([]RemoteNote, error) {
	c.logger.Info("listing remote notes")

	apiPath := fmt.Sprintf("%s/children?$top=%d", appFolderPath, listPageSize)

	var entries []RemoteNote

	for apiPath != "" {
		pageEntries, nextPath, err := c.listNotesPage(ctx, apiPath)
		if err != nil {
			return nil, err
		}

		entries = append(entries, pageEntries...)
		apiPath = nextPath
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModifiedAt.After(entries[j].ModifiedAt)
	})

	c.logger.Info("listed remote notes", slog.Int("count", len(entries)))

	return entries, nil
}

// listNotesPage fetches one page of the app folder listing.
func (c *Client) listNotesPage(ctx context.Context, apiPath string) ([]RemoteNote, string, error) {
	resp, err := c.Do(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var lcr listChildrenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lcr); err != nil {
		return nil, "", fmt.Errorf("graph: decoding children response: %w", err)
	}

	entries := make([]RemoteNote, 0, len(lcr.Value))

	for _, item := range lcr.Value {
		if !strings.HasSuffix(item.Name, NoteExt) {
			continue
		}

		entries = append(entries, RemoteNote{
			ID:         item.ID,
			Name:       item.Name,
			ModifiedAt: c.parseTimestamp(item.LastModifiedDateTime, item.ID),
			Size:       item.Size,
		})
	}

	var nextPath string
	if lcr.NextLink != "" {
		nextPath, err = c.stripBaseURL(lcr.NextLink)
		if err != nil {
			return nil, "", err
		}
	}

	return entries, nextPath, nil
}

// parseTimestamp parses an RFC3339 timestamp, falling back to the current
// time (with a warning) on empty or malformed input.
func (c *Client) parseTimestamp(raw, itemID string) time.Time {
	if raw == "" {
		c.logger.Warn("empty timestamp on remote item, using current time",
			slog.String("item_id", itemID),
		)

		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.logger.Warn("invalid timestamp on remote item, using current time",
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}

// stripBaseURL removes the client's base URL prefix from a full URL,
// returning the path + query string for use with Do().
func (c *Client) stripBaseURL(fullURL string) (string, error) {
	if !strings.HasPrefix(fullURL, c.baseURL) {
		return "", fmt.Errorf("graph: nextLink URL %q does not match base URL %q", fullURL, c.baseURL)
	}

	return fullURL[len(c.baseURL):], nil
}

// GetNote downloads the raw content of one note file by remote id.
// Decoding into a note is the sync engine's business.
func (c *Client) GetNote(ctx context.Context, remoteID string) ([]byte, error) {
	c.logger.Debug("downloading note", slog.String("remote_id", remoteID))

	resp, err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/me/drive/items/%s/content", url.PathEscape(remoteID)), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("graph: reading note content: %w", err)
	}

	return data, nil
}

// putResponse is the driveItem subset returned by content uploads.
type putResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PutNote creates a new note file with the given name in the app folder.
// The server assigns and returns the remote id.
func (c *Client) PutNote(ctx context.Context, name string, payload []byte) (string, error) {
	c.logger.Info("creating remote note", slog.String("name", name))

	apiPath := fmt.Sprintf("%s:/%s:/content", appFolderPath, url.PathEscape(name))

	return c.putContent(ctx, apiPath, payload)
}

// UpdateNote overwrites an existing note file by remote id.
func (c *Client) UpdateNote(ctx context.Context, remoteID string, payload []byte) (string, error) {
	c.logger.Info("updating remote note", slog.String("remote_id", remoteID))

	apiPath := fmt.Sprintf("/me/drive/items/%s/content", url.PathEscape(remoteID))

	return c.putContent(ctx, apiPath, payload)
}

func (c *Client) putContent(ctx context.Context, apiPath string, payload []byte) (string, error) {
	resp, err := c.Do(ctx, http.MethodPut, apiPath, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var pr putResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("graph: decoding upload response: %w", err)
	}

	if pr.ID == "" {
		return "", fmt.Errorf("graph: upload response missing item id")
	}

	return pr.ID, nil
}

// DeleteNote removes a note file by remote id. Returns nil on HTTP 204.
func (c *Client) DeleteNote(ctx context.Context, remoteID string) error {
	c.logger.Info("deleting remote note", slog.String("remote_id", remoteID))

	resp, err := c.Do(ctx, http.MethodDelete, fmt.Sprintf("/me/drive/items/%s", url.PathEscape(remoteID)), nil)
	if err != nil {
		return err
	}

	return drainBody(resp)
}

// Me returns the signed-in user's profile. Email falls back from mail to
// userPrincipalName, matching how work accounts report addresses.
func (c *Client) Me(ctx context.Context) (*User, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/me", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ur userResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return nil, fmt.Errorf("graph: decoding user response: %w", err)
	}

	email := ur.Mail
	if email == "" {
		email = ur.UserPrincipalName
	}

	return &User{ID: ur.ID, DisplayName: ur.DisplayName, Email: email}, nil
}
