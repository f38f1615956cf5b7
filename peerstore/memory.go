package peerstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
)

// MemoryStore keeps peer records in a guarded map. Used by tests and
// single-process development setups; contents do not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	peers map[interfaces.UserID]interfaces.Peer
	log   *slog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(log *slog.Logger) *MemoryStore {
	return &MemoryStore{
		peers: make(map[interfaces.UserID]interfaces.Peer),
		log:   log,
	}
}

// Add inserts a new record.
func (s *MemoryStore) Add(ctx context.Context, peer interfaces.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.peers[peer.UserID]; exists {
		return fmt.Errorf("%w: user %s", interfaces.ErrDuplicatePeer, peer.UserID)
	}
	s.peers[peer.UserID] = peer
	return nil
}

// FindByID returns the record for the user ID, or nil on a miss.
func (s *MemoryStore) FindByID(ctx context.Context, id interfaces.UserID) (*interfaces.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peer, ok := s.peers[id]
	if !ok {
		return nil, nil
	}
	return &peer, nil
}

// FindByName returns the first record with the username, or nil on a miss.
func (s *MemoryStore) FindByName(ctx context.Context, name interfaces.Username) (*interfaces.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, peer := range s.peers {
		if peer.Username == name {
			p := peer
			return &p, nil
		}
	}
	return nil, nil
}

// Update replaces the record by key. The map assignment is atomic under
// the lock; readers see either the old or the new record, never neither.
func (s *MemoryStore) Update(ctx context.Context, peer interfaces.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.peers[peer.UserID] = peer
	return nil
}

// Delete removes the record for the user ID.
func (s *MemoryStore) Delete(ctx context.Context, id interfaces.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.peers, id)
	return nil
}

// ListAll returns every record.
func (s *MemoryStore) ListAll(ctx context.Context) ([]interfaces.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]interfaces.Peer, 0, len(s.peers))
	for _, peer := range s.peers {
		peers = append(peers, peer)
	}
	return peers, nil
}

// Count returns the number of records.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers), nil
}

// Name returns an identifier for logging.
func (s *MemoryStore) Name() string {
	return "memory"
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
