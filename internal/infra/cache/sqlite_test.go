package cache

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db := NewDB(filepath.Join(t.TempDir(), "metadata.db"))
	if err := db.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesSchema(t *testing.T) {
	db := openTestDB(t)

	if got := db.getSchemaVersion(); got != CurrentSchemaVersion {
		t.Errorf("schema version = %q, want %q", got, CurrentSchemaVersion)
	}
}

func TestTrackRoundTrip(t *testing.T) {
	db := openTestDB(t)
	dao := NewDAO(db)

	track := &CachedTrack{
		Key:      "/Music/Album/01-Track.flac",
		Path:     "/Music/Album/01-Track.flac",
		Title:    "Track One",
		Artist:   "Some Artist",
		Album:    "Some Album",
		Duration: 241,
	}
	if err := dao.UpsertTrack(track); err != nil {
		t.Fatalf("UpsertTrack: %v", err)
	}

	got, err := dao.GetTrack(track.Key)
	if err != nil {
		t.Fatalf("GetTrack: %v", err)
	}
	if got == nil {
		t.Fatal("GetTrack returned nil for a stored key")
	}
	if got.Title != track.Title || got.Duration != track.Duration {
		t.Errorf("GetTrack = %+v, want title %q duration %d", got, track.Title, track.Duration)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := openTestDB(t)
	dao := NewDAO(db)

	track := &CachedTrack{Key: "/m/a.flac", Path: "/m/a.flac", Duration: 100}
	if err := dao.UpsertTrack(track); err != nil {
		t.Fatal(err)
	}
	track.Duration = 180
	if err := dao.UpsertTrack(track); err != nil {
		t.Fatal(err)
	}

	got, err := dao.GetTrack(track.Key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Duration != 180 {
		t.Errorf("Duration = %d, want 180", got.Duration)
	}

	count, err := dao.TrackCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("TrackCount = %d, want 1", count)
	}
}

func TestGetMissingTrack(t *testing.T) {
	db := openTestDB(t)
	dao := NewDAO(db)

	got, err := dao.GetTrack("/m/nothing.flac")
	if err != nil {
		t.Fatalf("GetTrack: %v", err)
	}
	if got != nil {
		t.Errorf("GetTrack for missing key = %+v, want nil", got)
	}
}

func TestDeleteTrack(t *testing.T) {
	db := openTestDB(t)
	dao := NewDAO(db)

	if err := dao.UpsertTrack(&CachedTrack{Key: "/m/a.flac", Path: "/m/a.flac"}); err != nil {
		t.Fatal(err)
	}
	if err := dao.DeleteTrack("/m/a.flac"); err != nil {
		t.Fatalf("DeleteTrack: %v", err)
	}

	got, err := dao.GetTrack("/m/a.flac")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("entry still present after delete")
	}
}

func TestDAOWithClosedDB(t *testing.T) {
	db := NewDB(filepath.Join(t.TempDir(), "metadata.db"))
	dao := NewDAO(db)

	if err := dao.UpsertTrack(&CachedTrack{Key: "/m/a.flac"}); err == nil {
		t.Error("UpsertTrack on an unopened database should fail")
	}
	if _, err := dao.GetTrack("/m/a.flac"); err == nil {
		t.Error("GetTrack on an unopened database should fail")
	}
}
