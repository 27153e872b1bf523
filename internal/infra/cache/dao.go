package cache

import (
	"database/sql"
	"fmt"
	"time"
)

// CachedTrack is a metadata cache entry keyed by canonical track key.
type CachedTrack struct {
	Key       string    `json:"key"`
	Path      string    `json:"path"`
	Title     string    `json:"title,omitempty"`
	Artist    string    `json:"artist,omitempty"`
	Album     string    `json:"album,omitempty"`
	Duration  int       `json:"duration,omitempty"` // seconds
	UpdatedAt time.Time `json:"updatedAt"`
}

// DAO provides data access operations for the metadata cache.
type DAO struct {
	db *DB
}

// NewDAO creates a new DAO instance.
func NewDAO(db *DB) *DAO {
	return &DAO{db: db}
}

// UpsertTrack inserts or updates a track entry.
func (dao *DAO) UpsertTrack(track *CachedTrack) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}

	now := time.Now().Format(time.RFC3339)
	_, err := db.Exec(`
		INSERT INTO tracks (key, path, title, artist, album, duration, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			path = ?, title = ?, artist = ?, album = ?, duration = ?, updated_at = ?
	`,
		track.Key, track.Path, track.Title, track.Artist, track.Album, track.Duration, now,
		track.Path, track.Title, track.Artist, track.Album, track.Duration, now,
	)
	return err
}

// GetTrack returns the entry for a canonical key, or nil when absent.
func (dao *DAO) GetTrack(key string) (*CachedTrack, error) {
	db := dao.db.DB()
	if db == nil {
		return nil, fmt.Errorf("database not open")
	}

	var track CachedTrack
	var updatedAt string
	err := db.QueryRow(`
		SELECT key, path, title, artist, album, duration, updated_at
		FROM tracks WHERE key = ?
	`, key).Scan(&track.Key, &track.Path, &track.Title, &track.Artist, &track.Album, &track.Duration, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		track.UpdatedAt = ts
	}
	return &track, nil
}

// DeleteTrack removes the entry for a canonical key.
func (dao *DAO) DeleteTrack(key string) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}

	_, err := db.Exec("DELETE FROM tracks WHERE key = ?", key)
	return err
}

// TrackCount returns the number of cached entries.
func (dao *DAO) TrackCount() (int, error) {
	db := dao.db.DB()
	if db == nil {
		return 0, fmt.Errorf("database not open")
	}

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM tracks").Scan(&count)
	return count, err
}
