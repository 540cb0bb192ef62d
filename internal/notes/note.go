// Package notes defines the note entity shared by the sync engine, the
// local flat-file store, and the cloud payload codec.
package notes

import (
	"sort"
	"strings"
	"time"
)

// StorageKind tags where a note's authoritative copy lives.
type StorageKind string

const (
	// StorageLocal marks a note that has never been synced to the cloud.
	StorageLocal StorageKind = "local"
	// StorageCloud marks a note that has a remote counterpart.
	StorageCloud StorageKind = "cloud"
)

// Note is a single text document. ID is the stable local identifier.
// RemoteID is the opaque cloud item handle, empty until the first push;
// once assigned it stays stable unless the remote file is deleted and
// recreated.
type Note struct {
	ID       string
	Title    string
	Text     string
	Created  time.Time
	Modified time.Time
	Owner    string
	RemoteID string
	Storage  StorageKind
}

// Empty reports whether the note body has no content worth syncing.
func (n Note) Empty() bool {
	return strings.TrimSpace(n.Text) == ""
}

// Touch advances the modification timestamp, keeping it monotonic
// non-decreasing under a single writer.
func (n *Note) Touch(now time.Time) {
	if now.After(n.Modified) {
		n.Modified = now
	}
}

// SortByID orders notes by their local identifier. Push processes notes in
// this order so repeated runs are reproducible.
func SortByID(ns []Note) {
	sort.Slice(ns, func(i, j int) bool { return ns[i].ID < ns[j].ID })
}
