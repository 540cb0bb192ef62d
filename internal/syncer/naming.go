package syncer

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/jwinnathayden/noted-sync/internal/graph"
	"github.com/jwinnathayden/noted-sync/internal/notes"
)

// maxStemLen caps the human-readable part of a derived filename.
const maxStemLen = 30

// shortIDLen is how much of the note id goes into the filename suffix.
const shortIDLen = 8

// deriveRemoteName builds the remote filename for a note. The stem comes
// from the title when it carries real content (more than three characters
// after trimming), otherwise from the first line of the note text. Text is
// NFKC-normalized, then reduced to [A-Za-z0-9_-] with spaces mapped to
// underscores, and truncated. A note-id suffix keeps notes with identical
// first lines from colliding.
//
// With timestamped set, a unix-timestamp segment is appended too, so a
// fresh create never lands on an older file of the same name.
func deriveRemoteName(n notes.Note, timestamped bool, now time.Time) string {
	stem := strings.TrimSpace(n.Title)
	if len(stem) <= 3 {
		stem = firstLine(n.Text)
	}

	stem = sanitizeStem(norm.NFKC.String(stem))
	if stem == "" {
		stem = "note"
	}

	name := stem + "_" + shortID(n.ID)

	if timestamped {
		name += "_" + strconv.FormatInt(now.Unix(), 10)
	}

	return name + graph.NoteExt
}

// firstLine returns the first non-empty line of text, trimmed.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}

	return ""
}

// sanitizeStem reduces a stem to filename-safe characters. Spaces become
// underscores, anything outside [A-Za-z0-9_-] is dropped, and the result
// is truncated to maxStemLen.
func sanitizeStem(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}

	stem := strings.Trim(b.String(), "_-")
	if len(stem) > maxStemLen {
		stem = stem[:maxStemLen]
	}

	return stem
}

// shortID returns the leading shortIDLen characters of a note id.
func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}

	return id
}

// trimNoteExt strips the note file extension from a remote filename.
func trimNoteExt(name string) string {
	return strings.TrimSuffix(name, graph.NoteExt)
}
