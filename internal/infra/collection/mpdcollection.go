package collection

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/trackkey"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/infra/cache"
	mpdclient "github.com/mvaldes-audio/aurora-audioplayer-backend/internal/infra/mpd"
)

// MPDCollection is a Collection backed by the MPD play queue. Refresh
// snapshots the queue into memory; reads are served from the snapshot so
// selection never waits on the MPD socket. Durations missing from MPD are
// hydrated from the metadata cache, and fresh metadata is written back.
type MPDCollection struct {
	client   *mpdclient.Client
	metadata *cache.DAO
	snapshot *MemoryCollection
}

// NewMPDCollection creates a collection over the given MPD client. The
// metadata DAO is optional.
func NewMPDCollection(client *mpdclient.Client, metadata *cache.DAO) *MPDCollection {
	return &MPDCollection{
		client:   client,
		metadata: metadata,
		snapshot: NewMemoryCollection(),
	}
}

// Refresh re-snapshots the MPD queue.
func (c *MPDCollection) Refresh() error {
	songs, err := c.client.PlaylistInfo()
	if err != nil {
		return fmt.Errorf("failed to read MPD queue: %w", err)
	}

	records := make([]Record, 0, len(songs))
	for _, song := range songs {
		path := song["file"]
		if path == "" {
			continue
		}

		rec := Record{
			Key:    trackkey.Canonicalize(path),
			Path:   path,
			Title:  song["Title"],
			Artist: song["Artist"],
			Album:  song["Album"],
		}
		if rec.Title == "" {
			parts := strings.Split(path, "/")
			rec.Title = parts[len(parts)-1]
		}
		if duration, err := strconv.Atoi(song["Time"]); err == nil {
			rec.Duration = duration
		}

		if c.metadata != nil {
			if rec.Duration == 0 {
				if cached, err := c.metadata.GetTrack(rec.Key); err == nil && cached != nil {
					rec.Duration = cached.Duration
				}
			} else if err := c.metadata.UpsertTrack(&cache.CachedTrack{
				Key:      rec.Key,
				Path:     rec.Path,
				Title:    rec.Title,
				Artist:   rec.Artist,
				Album:    rec.Album,
				Duration: rec.Duration,
			}); err != nil {
				log.Warn().Err(err).Str("key", rec.Key).Msg("Failed to warm metadata cache")
			}
		}

		records = append(records, rec)
	}

	c.snapshot.Replace(records)
	log.Info().Int("tracks", len(records)).Msg("Refreshed MPD queue snapshot")
	return nil
}

// AllRecords returns the snapshot records in MPD queue order.
func (c *MPDCollection) AllRecords() []Record { return c.snapshot.AllRecords() }

// Len returns the snapshot size.
func (c *MPDCollection) Len() int { return c.snapshot.Len() }

// RecordAt returns the record at an MPD queue position.
func (c *MPDCollection) RecordAt(i int) (Record, bool) { return c.snapshot.RecordAt(i) }

// RecordForKey resolves a canonical key to its record.
func (c *MPDCollection) RecordForKey(key string) (Record, bool) { return c.snapshot.RecordForKey(key) }

// IndexOf returns the MPD queue position of a key.
func (c *MPDCollection) IndexOf(key string) (int, bool) { return c.snapshot.IndexOf(key) }

// Keys returns all canonical keys in queue order.
func (c *MPDCollection) Keys() []string { return c.snapshot.Keys() }

// Contains reports whether a key resolves to a record.
func (c *MPDCollection) Contains(key string) bool { return c.snapshot.Contains(key) }
