// Package scope holds the active playback scope: the flat queue or a
// specific named playlist with its ordered membership.
package scope

// Kind identifies which logical collection drives navigation.
type Kind string

const (
	// KindQueue is the flat play queue; its population is the physical
	// collection order.
	KindQueue Kind = "queue"
	// KindPlaylist is a named, user-curated track list.
	KindPlaylist Kind = "playlist"
)

// Selection is the persisted scope selector plus the resume pointer.
type Selection struct {
	Kind       Kind   `json:"kind"`
	PlaylistID string `json:"playlistID,omitempty"`
	Position   int    `json:"position,omitempty"`
}

// Queue returns a queue-scope selection.
func Queue() Selection {
	return Selection{Kind: KindQueue}
}

// Playlist returns a playlist-scope selection for the given playlist.
func Playlist(id string) Selection {
	return Selection{Kind: KindPlaylist, PlaylistID: id}
}

// IsPlaylist reports whether the selection targets a playlist.
func (s Selection) IsPlaylist() bool {
	return s.Kind == KindPlaylist
}

// PlaylistSource resolves playlist membership, the external contract the
// resolver restores persisted playlist scopes through. Implementations
// return member paths in authoritative order, filtered to paths that
// exist on disk.
type PlaylistSource interface {
	Exists(id string) bool
	MembersInOrder(id string) []string
}

// Population is the physical record lookup playable counting runs against.
type Population interface {
	Keys() []string
	Contains(key string) bool
}
