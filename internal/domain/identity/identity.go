// Package identity manages the player's persistent instance identity so
// clients can tell multiple backends on one network apart.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const identityFileName = "identity.json"

// DeviceInfo identifies this backend instance.
type DeviceInfo struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// Service loads the persisted identity, generating and saving a fresh one
// on first start.
type Service struct {
	mu       sync.RWMutex
	filePath string
	info     DeviceInfo
}

// NewService loads or creates the identity under dataDir.
func NewService(dataDir string) (*Service, error) {
	s := &Service{filePath: filepath.Join(dataDir, identityFileName)}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := s.load(); err != nil {
		log.Debug().Err(err).Msg("No existing identity, generating a new one")
		s.info.UUID = uuid.New().String()
		s.info.Name = defaultName()
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("failed to save identity: %w", err)
		}
	}

	log.Info().Str("uuid", s.info.UUID).Str("name", s.info.Name).Msg("Instance identity loaded")
	return s, nil
}

// Info returns the current identity.
func (s *Service) Info() DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// UUID returns the persistent instance UUID.
func (s *Service) UUID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.UUID
}

// SetName updates the display name and persists it.
func (s *Service) SetName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Name = name
	return s.save()
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var info DeviceInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("invalid identity format: %w", err)
	}
	if info.UUID == "" {
		return fmt.Errorf("identity missing UUID")
	}
	if info.Name == "" {
		info.Name = defaultName()
	}

	s.info = info
	return nil
}

func (s *Service) save() error {
	data, err := json.MarshalIndent(s.info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, data, 0644)
}

func defaultName() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "Aurora"
	}
	return hostname
}
