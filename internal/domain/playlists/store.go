// Package playlists reads user-curated playlists from .m3u files.
//
// A playlist's ID is its file name without extension. Members are
// returned in file order, filtered to paths that exist on disk, which is
// the contract the scope resolver restores playlist scopes through.
package playlists

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

var playlistExtensions = []string{".m3u", ".m3u8"}

// Store reads playlists from a directory of .m3u files.
type Store struct {
	dir       string
	musicRoot string
}

// NewStore creates a store over the given playlists directory. Relative
// member entries are resolved against musicRoot.
func NewStore(dir, musicRoot string) *Store {
	return &Store{dir: dir, musicRoot: musicRoot}
}

// IDs returns the available playlist IDs in sorted order.
func (s *Store) IDs() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", s.dir).Msg("Failed to read playlists directory")
		}
		return nil
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		for _, ext := range playlistExtensions {
			if strings.EqualFold(filepath.Ext(name), ext) {
				ids = append(ids, strings.TrimSuffix(name, filepath.Ext(name)))
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// Exists reports whether a playlist file exists for the given ID.
func (s *Store) Exists(id string) bool {
	return s.filePath(id) != ""
}

// MembersInOrder returns the playlist's member paths in file order,
// filtered to paths confirmed to exist on disk.
func (s *Store) MembersInOrder(id string) []string {
	path := s.filePath(id)
	if path == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("playlist", id).Msg("Failed to open playlist file")
		return nil
	}
	defer f.Close()

	var members []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		member := line
		if !filepath.IsAbs(member) && s.musicRoot != "" {
			member = filepath.Join(s.musicRoot, member)
		}
		if _, err := os.Stat(member); err != nil {
			log.Debug().Str("playlist", id).Str("path", member).Msg("Skipping missing playlist member")
			continue
		}
		members = append(members, member)
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Str("playlist", id).Msg("Failed to read playlist file")
	}
	return members
}

// filePath returns the playlist file for an ID, empty when absent. IDs
// containing path separators are rejected.
func (s *Store) filePath(id string) string {
	if id == "" || strings.ContainsAny(id, "/\\") {
		return ""
	}
	for _, ext := range playlistExtensions {
		path := filepath.Join(s.dir, id+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
