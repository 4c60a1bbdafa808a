// Package memory provides a thread-safe in-memory connection store suitable
// for testing, development and single-instance deployments where persistence
// across restarts is not required.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"token-refresher/internal/common/errors"
	"token-refresher/internal/connections"
)

// Store implements connections.Store backed by a map.
type Store struct {
	mu    sync.RWMutex
	conns map[string]*connections.Connection
}

// NewStore creates an empty in-memory connection store.
func NewStore() *Store {
	return &Store{
		conns: make(map[string]*connections.Connection),
	}
}

// Create persists a new connection, assigning an ID when absent.
func (s *Store) Create(ctx context.Context, conn *connections.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if _, exists := s.conns[conn.ID]; exists {
		return errors.ValidationError("connection already exists: " + conn.ID)
	}

	now := time.Now()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	s.conns[conn.ID] = cloneConnection(conn)
	return nil
}

// Get retrieves a connection by ID.
func (s *Store) Get(ctx context.Context, id string) (*connections.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, exists := s.conns[id]
	if !exists {
		return nil, errors.NotFoundError("connection " + id)
	}
	return cloneConnection(conn), nil
}

// FindExpiring returns connections for the provider with a non-empty refresh
// token whose expiry is unknown or at/before the cutoff, ordered by ID for
// deterministic sweeps.
func (s *Store) FindExpiring(ctx context.Context, provider string, cutoff time.Time) ([]*connections.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*connections.Connection
	for _, conn := range s.conns {
		if conn.Provider != provider {
			continue
		}
		if !conn.NeedsRefresh(cutoff) {
			continue
		}
		due = append(due, cloneConnection(conn))
	}

	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

// UpdateToken overwrites the access token and expiry as one write.
func (s *Store) UpdateToken(ctx context.Context, id string, accessToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, exists := s.conns[id]
	if !exists {
		return errors.NotFoundError("connection " + id)
	}

	expiry := expiresAt
	conn.AccessToken = accessToken
	conn.ExpiresAt = &expiry
	conn.UpdatedAt = time.Now()
	return nil
}

// Delete removes a connection. Deleting an absent connection is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
	return nil
}

// Health always succeeds for the in-memory backend.
func (s *Store) Health() error {
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error {
	return nil
}

func cloneConnection(conn *connections.Connection) *connections.Connection {
	clone := *conn
	if conn.ExpiresAt != nil {
		expiry := *conn.ExpiresAt
		clone.ExpiresAt = &expiry
	}
	return &clone
}
