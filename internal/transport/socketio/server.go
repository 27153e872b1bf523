// Package socketio provides the Socket.io server for client communication.
package socketio

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/identity"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/scheduler"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/scope"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/unplayable"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/domain/weights"
	"github.com/mvaldes-audio/aurora-audioplayer-backend/internal/infra/collection"
	mpdclient "github.com/mvaldes-audio/aurora-audioplayer-backend/internal/infra/mpd"
)

const defaultMaxExternalClients = 8

// PlaylistLister enumerates the available playlists for clients.
type PlaylistLister interface {
	IDs() []string
}

// QueueRefresher re-snapshots the physical collection from its backend.
type QueueRefresher interface {
	Refresh() error
}

// Deps carries the services the Socket.io server exposes.
type Deps struct {
	Scheduler *scheduler.Service
	Col       collection.Collection
	Refresher QueueRefresher
	Weights   *weights.Store
	Tracker   *unplayable.Tracker
	Scopes    *scope.Resolver
	Playlists PlaylistLister
	MPD       *mpdclient.Client
	Device    *identity.Service
}

// Server handles Socket.io connections and events.
type Server struct {
	io      *socket.Server
	deps    Deps
	deb     *PushDebouncer
	limiter *ConnectionLimiter

	mu      sync.RWMutex
	clients map[string]*socket.Socket
}

// NewServer creates a new Socket.io server.
func NewServer(deps Deps) (*Server, error) {
	opts := socket.DefaultServerOptions()
	opts.SetPingTimeout(20 * time.Second)
	opts.SetPingInterval(25 * time.Second)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:      socket.NewServer(nil, opts),
		deps:    deps,
		limiter: NewConnectionLimiter(defaultMaxExternalClients),
		clients: make(map[string]*socket.Socket),
	}
	s.deb = NewPushDebouncer(250*time.Millisecond, s.BroadcastState, s.BroadcastQueue)

	if deps.Weights != nil {
		// Persistence failures are advisory: selection keeps running on
		// in-memory state, clients get told.
		deps.Weights.SetOnFlushError(func(err error) {
			s.io.Emit("notification", map[string]interface{}{
				"type":    "error",
				"title":   "Weight persistence failed",
				"message": err.Error(),
			})
		})
	}

	s.setupHandlers()
	return s, nil
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())

		remoteIP := ""
		if client.Handshake() != nil {
			remoteIP = client.Handshake().Address
		}
		evictedID := s.limiter.Admit(clientID, remoteIP)
		if evictedID != "" {
			s.mu.RLock()
			evicted := s.clients[evictedID]
			s.mu.RUnlock()
			if evicted != nil {
				log.Info().Str("id", evictedID).Msg("Evicting oldest external client")
				evicted.Disconnect(true)
			}
		}

		log.Info().Str("id", clientID).Str("ip", remoteIP).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		// Send initial state after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.pushState(client)
			s.pushQueue(client)
		}()

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.limiter.Drop(clientID)
			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
		})

		client.On("getState", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getState")
			s.pushState(client)
		})

		client.On("getQueue", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getQueue")
			s.pushQueue(client)
		})

		client.On("getPlaylists", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getPlaylists")
			ids := []string{}
			if s.deps.Playlists != nil {
				if got := s.deps.Playlists.IDs(); got != nil {
					ids = got
				}
			}
			client.Emit("pushPlaylists", ids)
		})

		// Selection events
		client.On("next", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("next")
			if rec, ok := s.deps.Scheduler.Next(s.deps.Scheduler.Mode()); ok {
				s.playSelected(rec)
			}
			s.deb.TriggerState()
		})

		client.On("prev", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("prev")
			if rec, ok := s.deps.Scheduler.Previous(s.deps.Scheduler.Mode()); ok {
				s.playSelected(rec)
			}
			s.deb.TriggerState()
		})

		client.On("peekNext", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("peekNext")
			rec, ok := s.deps.Scheduler.PeekNext(s.deps.Scheduler.Mode())
			if !ok {
				client.Emit("pushPeekNext", nil)
				return
			}
			client.Emit("pushPeekNext", rec)
		})

		client.On("selectTrack", func(args ...any) {
			pos, ok := intField(args, "position")
			if !ok {
				return
			}
			log.Debug().Str("id", clientID).Int("position", pos).Msg("selectTrack")
			if rec, ok := s.deps.Scheduler.SelectAt(pos); ok {
				s.playSelected(rec)
			}
			s.deb.TriggerState()
		})

		client.On("randomFirst", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("randomFirst")
			if rec, ok := s.deps.Scheduler.RandomFirst(); ok {
				s.playSelected(rec)
			}
			s.deb.TriggerState()
		})

		client.On("randomOther", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("randomOther")
			if rec, ok := s.deps.Scheduler.RandomExcludingCurrent(); ok {
				s.playSelected(rec)
			}
			s.deb.TriggerState()
		})

		client.On("setTraversalMode", func(args ...any) {
			mode, ok := stringField(args, "mode")
			if !ok {
				return
			}
			log.Debug().Str("id", clientID).Str("mode", mode).Msg("setTraversalMode")
			s.deps.Scheduler.SetMode(scheduler.Mode(mode))
			s.deb.TriggerState()
		})

		// Scope events
		client.On("setScopeQueue", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("setScopeQueue")
			s.deps.Scheduler.SetScopeQueue()
			s.deb.TriggerState()
		})

		client.On("setScopePlaylist", func(args ...any) {
			id, ok := stringField(args, "playlist")
			if !ok {
				return
			}
			log.Debug().Str("id", clientID).Str("playlist", id).Msg("setScopePlaylist")
			if !s.deps.Scheduler.SetScopePlaylist(id) {
				client.Emit("pushError", map[string]interface{}{
					"event":   "setScopePlaylist",
					"message": "playlist missing or empty",
				})
				return
			}
			s.deb.TriggerState()
		})

		// Weight events
		client.On("getWeight", func(args ...any) {
			path, ok := stringField(args, "path")
			if !ok {
				return
			}
			sel := s.weightScope(args)
			level := s.deps.Weights.Level(path, sel)
			client.Emit("pushWeight", map[string]interface{}{
				"path":       path,
				"level":      level,
				"multiplier": weights.MultiplierForLevel(level),
			})
		})

		client.On("setWeight", func(args ...any) {
			path, ok := stringField(args, "path")
			if !ok {
				return
			}
			level, ok := intField(args, "level")
			if !ok {
				return
			}
			log.Debug().Str("id", clientID).Str("path", path).Int("level", level).Msg("setWeight")
			s.deps.Weights.SetLevel(level, path, s.weightScope(args))
			s.deb.TriggerState()
		})

		client.On("clearWeights", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("clearWeights")
			s.deps.Weights.Clear(s.weightScope(args))
			s.deb.TriggerState()
		})

		client.On("syncWeights", func(args ...any) {
			id, ok := stringField(args, "playlist")
			if !ok {
				return
			}
			found, changed := s.deps.Weights.SyncOverridesToQueue(id)
			log.Info().Str("playlist", id).Int("found", found).Int("changed", changed).Msg("Synced playlist weights to queue")
			client.Emit("pushSyncWeights", map[string]interface{}{
				"playlist": id,
				"found":    found,
				"changed":  changed,
			})
			s.deb.TriggerState()
		})

		// Unplayability events
		client.On("trackFailed", func(args ...any) {
			path, ok := stringField(args, "path")
			if !ok {
				return
			}
			reason, _ := stringField(args, "reason")
			if reason == "" {
				reason = "playback failed"
			}
			log.Warn().Str("path", path).Str("reason", reason).Msg("Track reported unplayable")
			s.deps.Tracker.Mark(path, reason)
			s.deb.TriggerState()
		})

		client.On("trackPlayed", func(args ...any) {
			path, ok := stringField(args, "path")
			if !ok {
				return
			}
			// A successful playback attempt clears any unplayable mark.
			s.deps.Tracker.ClearMark(path)
			s.deb.TriggerState()
		})

		// Playback passthrough
		client.On("play", func(args ...any) {
			pos := -1
			if v, ok := intField(args, "value"); ok {
				pos = v
			}
			log.Debug().Str("id", clientID).Int("pos", pos).Msg("play")
			if s.deps.MPD == nil {
				return
			}
			if err := s.deps.MPD.Play(pos); err != nil {
				log.Error().Err(err).Msg("Play failed")
			}
		})

		client.On("pause", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("pause")
			if s.deps.MPD == nil {
				return
			}
			if err := s.deps.MPD.Pause(true); err != nil {
				log.Error().Err(err).Msg("Pause failed")
			}
		})

		client.On("stop", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("stop")
			if s.deps.MPD == nil {
				return
			}
			if err := s.deps.MPD.Stop(); err != nil {
				log.Error().Err(err).Msg("Stop failed")
			}
		})
	})
}

// playSelected starts playback of the selected record on MPD by its
// physical queue position.
func (s *Server) playSelected(rec collection.Record) {
	if s.deps.MPD == nil {
		return
	}
	idx, ok := s.deps.Col.IndexOf(rec.Key)
	if !ok {
		log.Warn().Str("key", rec.Key).Msg("Selected track has no queue position")
		return
	}
	if err := s.deps.MPD.Play(idx); err != nil {
		log.Error().Err(err).Str("key", rec.Key).Msg("Failed to start playback")
	}
}

// weightScope resolves the weight namespace for an event: an explicit
// playlist field, or the active scope.
func (s *Server) weightScope(args []any) scope.Selection {
	if id, ok := stringField(args, "playlist"); ok && id != "" {
		return scope.Playlist(id)
	}
	return s.deps.Scopes.Current()
}

// state assembles the scheduler state document pushed to clients.
func (s *Server) state() map[string]interface{} {
	sel := s.deps.Scopes.Current()

	doc := map[string]interface{}{
		"scope":           sel,
		"mode":            string(s.deps.Scheduler.Mode()),
		"playableCount":   s.deps.Scheduler.PlayableCount(),
		"unplayableCount": s.deps.Tracker.Count(),
		"queueLength":     s.deps.Col.Len(),
		"weightsRevision": s.deps.Weights.Revision(),
	}
	if rec, ok := s.deps.Scheduler.Current(); ok {
		doc["current"] = rec
	}
	if s.deps.Device != nil {
		doc["device"] = s.deps.Device.Info()
	}
	return doc
}

// pushState sends current state to a client.
func (s *Server) pushState(client *socket.Socket) {
	client.Emit("pushState", s.state())
}

// pushQueue sends the current collection snapshot to a client.
func (s *Server) pushQueue(client *socket.Socket) {
	client.Emit("pushQueue", s.deps.Col.AllRecords())
}

// BroadcastState sends state to all connected clients.
func (s *Server) BroadcastState() {
	state := s.state()
	s.io.Emit("pushState", state)

	if log.Debug().Enabled() {
		data, _ := json.Marshal(state)
		s.mu.RLock()
		clientCount := len(s.clients)
		s.mu.RUnlock()
		log.Debug().RawJSON("state", data).Int("clients", clientCount).Msg("Broadcast state")
	}
}

// BroadcastQueue sends the collection snapshot to all connected clients.
func (s *Server) BroadcastQueue() {
	s.io.Emit("pushQueue", s.deps.Col.AllRecords())
}

// StartMPDWatcher watches MPD subsystems and pushes debounced updates.
// Queue changes re-snapshot the collection before broadcasting.
func (s *Server) StartMPDWatcher(ctx context.Context) error {
	if s.deps.MPD == nil {
		return nil
	}
	subsystems := []string{"player", "playlist", "options"}
	events, err := s.deps.MPD.Watch(subsystems...)
	if err != nil {
		return err
	}

	go func() {
		log.Info().Strs("subsystems", subsystems).Msg("MPD watcher started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("MPD watcher stopped")
				return
			case subsystem, ok := <-events:
				if !ok {
					log.Warn().Msg("MPD watcher channel closed")
					return
				}

				log.Debug().Str("subsystem", subsystem).Msg("MPD subsystem changed")

				switch subsystem {
				case "player", "options":
					s.deb.TriggerState()
				case "playlist":
					if s.deps.Refresher != nil {
						if err := s.deps.Refresher.Refresh(); err != nil {
							log.Error().Err(err).Msg("Failed to refresh queue snapshot")
						}
					}
					// The queue was rewritten outside our view, so the
					// permutation no longer describes the population.
					s.deps.Scheduler.InvalidateShuffle()
					s.deb.TriggerQueue()
					s.deb.TriggerState()
				}
			}
		}
	}()

	return nil
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	s.deb.Stop()
	s.io.Close(nil)
	return nil
}

// stringField extracts a string value from the first event payload map.
func stringField(args []any, key string) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	m, ok := args[0].(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := m[key].(string)
	return v, ok
}

// intField extracts a numeric value from the first event payload map.
func intField(args []any, key string) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	m, ok := args[0].(map[string]interface{})
	if !ok {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	}
	return 0, false
}
