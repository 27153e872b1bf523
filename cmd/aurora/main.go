// Package main is the entry point for the Aurora audio player backend.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/config"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/identity"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/playlists"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/scheduler"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/scope"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/unplayable"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/weights"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/infra/cache"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/infra/collection"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/infra/mpd"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/infra/watcher"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/transport/socketio"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Command line flags override the environment
	port := flag.String("port", cfg.Port, "HTTP server port")
	mpdHost := flag.String("mpd-host", cfg.MPDHost, "MPD host")
	mpdPort := flag.Int("mpd-port", cfg.MPDPort, "MPD port")
	mpdPassword := flag.String("mpd-password", cfg.MPDPassword, "MPD password")
	dataDir := flag.String("data", cfg.DataDir, "Directory for persisted state")
	musicDir := flag.String("music", cfg.MusicDir, "Music directory to watch for changes (optional)")
	playlistsDir := flag.String("playlists", cfg.PlaylistsDir, "Directory of .m3u playlists (optional)")
	staticDir := flag.String("static", cfg.StaticDir, "Directory to serve static files from (optional)")
	debug := flag.Bool("debug", cfg.Debug, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Weighted Track Selection Backend")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("port", *port).
		Str("mpd_host", *mpdHost).
		Int("mpd_port", *mpdPort).
		Str("data_dir", *dataDir).
		Bool("password_set", *mpdPassword != "").
		Msg("Configuration")

	// Create MPD client
	mpdClient := mpd.NewClient(*mpdHost, *mpdPort, *mpdPassword)
	if err := mpdClient.Connect(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MPD")
	}
	defer mpdClient.Close()

	if err := mpdClient.Ping(); err != nil {
		log.Fatal().Err(err).Msg("MPD ping failed")
	}
	log.Info().Msg("MPD connection verified")

	// Metadata cache
	dbPath := cfg.MetadataDB
	if dbPath == "" {
		dbPath = filepath.Join(*dataDir, "metadata.db")
	}
	var metadata *cache.DAO
	db := cache.NewDB(dbPath)
	if err := db.Open(); err != nil {
		log.Warn().Err(err).Str("path", dbPath).Msg("Metadata cache unavailable, continuing without it")
	} else {
		defer db.Close()
		metadata = cache.NewDAO(db)
	}

	// Physical collection snapshot
	col := collection.NewMPDCollection(mpdClient, metadata)
	if err := col.Refresh(); err != nil {
		log.Fatal().Err(err).Msg("Failed to snapshot MPD queue")
	}

	// Persistent instance identity
	device, err := identity.NewService(*dataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize instance identity")
	}

	// Selection state
	weightStore := weights.NewStore(*dataDir)
	defer func() {
		if err := weightStore.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to flush weights on shutdown")
		}
	}()

	tracker := unplayable.NewTracker()
	scopes := scope.NewResolver(*dataDir)
	playlistStore := playlists.NewStore(*playlistsDir, *musicDir)

	sched := scheduler.NewService(col, scopes, weightStore, tracker, playlistStore, nil)
	defer sched.Close()
	if metadata != nil {
		sched.SetCacheWarmer(func(ctx context.Context, keys []string) {
			for _, key := range keys {
				if ctx.Err() != nil {
					return
				}
				if rec, ok := col.RecordForKey(key); ok && rec.Duration > 0 {
					_ = metadata.UpsertTrack(&cache.CachedTrack{
						Key:      rec.Key,
						Path:     rec.Path,
						Title:    rec.Title,
						Artist:   rec.Artist,
						Album:    rec.Album,
						Duration: rec.Duration,
					})
				}
			}
		})
	}
	restored := sched.Restore()
	log.Info().Str("kind", string(restored.Kind)).Str("playlist", restored.PlaylistID).Msg("Scope restored")

	// Create Socket.io server
	socketServer, err := socketio.NewServer(socketio.Deps{
		Scheduler: sched,
		Col:       col,
		Refresher: col,
		Weights:   weightStore,
		Tracker:   tracker,
		Scopes:    scopes,
		Playlists: playlistStore,
		MPD:       mpdClient,
		Device:    device,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Socket.io server")
	}
	defer socketServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := socketServer.StartMPDWatcher(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start MPD watcher")
	}

	// Music directory watcher
	if *musicDir != "" {
		fsWatcher, err := watcher.New(*musicDir, func(added, removed []string) {
			if err := col.Refresh(); err != nil {
				log.Error().Err(err).Msg("Failed to refresh queue snapshot after filesystem change")
				return
			}
			sched.IntegrateTracks(added, removed)
			socketServer.BroadcastQueue()
			socketServer.BroadcastState()
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create music directory watcher")
		}
		if err := fsWatcher.Start(); err != nil {
			log.Fatal().Err(err).Str("dir", *musicDir).Msg("Failed to watch music directory")
		}
		defer fsWatcher.Close()
	}

	// Setup HTTP server
	mux := http.NewServeMux()

	mux.Handle("/socket.io/", socketServer)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := mpdClient.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","mpd":"disconnected"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","mpd":"connected"}`))
	})

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(version.GetInfo())
	})

	// Serve static files if directory specified (SPA mode)
	if *staticDir != "" {
		log.Info().Str("dir", *staticDir).Msg("Serving static files")
		fs := http.FileServer(http.Dir(*staticDir))
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			path := *staticDir + r.URL.Path
			if r.URL.Path == "/" {
				path = *staticDir + "/index.html"
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				// For SPA routing, serve index.html for non-existing paths
				http.ServeFile(w, r, *staticDir+"/index.html")
				return
			}
			fs.ServeHTTP(w, r)
		})
	}

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", ":"+*port).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	log.Info().Msg("Server stopped")
}
