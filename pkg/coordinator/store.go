package coordinator

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tecu23/room-server/pkg/rules"
)

// Store is an in-memory map from session key to the current game position.
// Read-modify-write sequences on one key are serialized by the session lock held by the caller.
type Store struct {
	games  map[string]rules.Position
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewStore creates a new in-memory game store
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		games:  make(map[string]rules.Position),
		logger: logger,
	}
}

// Create stores the initial position of a new session. A key can only be created once
// while it exists.
func (s *Store) Create(key string, pos rules.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[key]; ok {
		return fmt.Errorf("game for session %q already exists", key)
	}

	s.games[key] = pos
	s.logger.Debug("game created", zap.String("session", key))
	return nil
}

// Get retrieves the current position of a session
func (s *Store) Get(key string) (rules.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.games[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, key)
	}

	return pos, nil
}

// Save replaces the position of an existing session
func (s *Store) Save(key string, pos rules.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSession, key)
	}

	s.games[key] = pos
	return nil
}

// Delete drops the position of a reclaimed session
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.games, key)
	s.logger.Debug("game deleted", zap.String("session", key))
}

// Len returns the number of stored games
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.games)
}
