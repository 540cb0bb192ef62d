package notes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// payload is the on-the-wire JSON shape for a note file in the cloud app
// folder. Two body fields are written on every put: "text" (web clients)
// and "content" (desktop clients). Decoding accepts either, preferring
// "content" because the desktop app was the first writer of this format.
type payload struct {
	Text     string   `json:"text,omitempty"`
	Content  string   `json:"content,omitempty"`
	Title    string   `json:"title,omitempty"`
	NoteID   string   `json:"note_id,omitempty"`
	WebID    string   `json:"web_note_id,omitempty"`
	Owner    string   `json:"owner,omitempty"`
	Created  flexTime `json:"created,omitzero"`
	Modified flexTime `json:"modified,omitzero"`
	// last_modified is a legacy epoch-seconds field written by early desktop
	// builds. Read-only; never written back.
	LastModified flexTime `json:"last_modified,omitzero"`
	SyncedAt     flexTime `json:"synced_at,omitzero"`
}

// flexTime decodes a timestamp that may be an RFC3339 string or a numeric
// Unix epoch (seconds, possibly fractional). Older clients wrote epochs;
// current clients write RFC3339 in UTC.
type flexTime time.Time

func (t flexTime) IsZero() bool { return time.Time(t).IsZero() }

func (t flexTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339))
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*t = flexTime(time.Time{})
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}

		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			// Some clients wrote bare ISO timestamps without a zone.
			parsed, err = time.Parse("2006-01-02T15:04:05", raw)
			if err != nil {
				return fmt.Errorf("notes: parsing timestamp %q: %w", raw, err)
			}

			parsed = parsed.UTC()
		}

		*t = flexTime(parsed)

		return nil
	}

	epoch, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("notes: parsing epoch timestamp %q: %w", s, err)
	}

	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * float64(time.Second))
	*t = flexTime(time.Unix(sec, nsec).UTC())

	return nil
}

// MarshalPayload encodes a note for upload to the cloud store.
// now stamps synced_at so other devices can tell when this copy was written.
func MarshalPayload(n Note, now time.Time) ([]byte, error) {
	p := payload{
		Text:     n.Text,
		Content:  n.Text,
		Title:    n.Title,
		NoteID:   n.ID,
		WebID:    n.ID,
		Owner:    n.Owner,
		Created:  flexTime(n.Created),
		Modified: flexTime(n.Modified),
		SyncedAt: flexTime(now),
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("notes: encoding payload for %s: %w", n.ID, err)
	}

	return data, nil
}

// ParsePayload decodes a downloaded note file. Both payload dialects
// (desktop "content", web "text") are accepted; the local identity comes
// from note_id or web_note_id when present.
func ParsePayload(data []byte) (Note, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Note{}, fmt.Errorf("notes: decoding payload: %w", err)
	}

	text := p.Content
	if text == "" {
		text = p.Text
	}

	id := p.NoteID
	if id == "" {
		id = p.WebID
	}

	modified := time.Time(p.Modified)
	if modified.IsZero() {
		modified = time.Time(p.LastModified)
	}

	return Note{
		ID:       id,
		Title:    p.Title,
		Text:     text,
		Created:  time.Time(p.Created),
		Modified: modified,
		Owner:    p.Owner,
		Storage:  StorageCloud,
	}, nil
}
