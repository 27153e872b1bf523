// Package collection models the physical track collection the scheduler
// selects from. Records are opaque handles: the scheduler only decides
// which one plays next and never mutates track content.
package collection

// Record is a physical track entry with its canonical key and metadata.
type Record struct {
	Key      string `json:"key"`
	Path     string `json:"path"`
	Title    string `json:"title"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Duration int    `json:"duration,omitempty"` // seconds
}

// Collection is index- and key-addressable access to the physical
// records, in collection order.
type Collection interface {
	// AllRecords returns the records in physical order.
	AllRecords() []Record
	// Len returns the number of records.
	Len() int
	// RecordAt returns the record at a physical index.
	RecordAt(i int) (Record, bool)
	// RecordForKey resolves a canonical key (or a legacy case-folded
	// variant) to its record.
	RecordForKey(key string) (Record, bool)
	// IndexOf returns the physical index of a key.
	IndexOf(key string) (int, bool)
	// Keys returns all canonical keys in physical order.
	Keys() []string
	// Contains reports whether a key resolves to a record.
	Contains(key string) bool
}
