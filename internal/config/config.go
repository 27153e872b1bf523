// Package config loads runtime configuration from the environment.
package config

import (
	"github.com/kelseyhightower/envconfig"
)

// Config is populated from AURORA_* environment variables; command line
// flags in cmd/aurora override individual fields.
type Config struct {
	Port        string `envconfig:"PORT" default:"3001"`
	MPDHost     string `envconfig:"MPD_HOST" default:"localhost"`
	MPDPort     int    `envconfig:"MPD_PORT" default:"6600"`
	MPDPassword string `envconfig:"MPD_PASSWORD"`

	DataDir      string `envconfig:"DATA_DIR" default:"data"`
	MusicDir     string `envconfig:"MUSIC_DIR"`
	PlaylistsDir string `envconfig:"PLAYLISTS_DIR"`
	MetadataDB   string `envconfig:"METADATA_DB"`

	StaticDir string `envconfig:"STATIC_DIR"`
	Debug     bool   `envconfig:"DEBUG" default:"false"`
}

// Load reads AURORA_* variables into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("aurora", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
