package peerstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
)

// FileStore keeps one JSON document per peer under a base directory,
// named by user ID. Updates write to a temporary file and rename it over
// the old document, so a concurrent reader sees either the previous or
// the new record, never a partial or absent one.
type FileStore struct {
	baseDir string
	log     *slog.Logger
}

// NewFileStore creates a file-backed store rooted at baseDir, creating the
// directory if absent.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{baseDir: baseDir, log: log}, nil
}

func (s *FileStore) peerPath(id interfaces.UserID) string {
	return filepath.Join(s.baseDir, id.String()+".json")
}

// Add inserts a new record.
func (s *FileStore) Add(ctx context.Context, peer interfaces.Peer) error {
	path := s.peerPath(peer.UserID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: user %s", interfaces.ErrDuplicatePeer, peer.UserID)
	}
	return s.write(peer)
}

// FindByID reads the record for the user ID, or returns nil on a miss.
func (s *FileStore) FindByID(ctx context.Context, id interfaces.UserID) (*interfaces.Peer, error) {
	data, err := os.ReadFile(s.peerPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading peer %s: %v", interfaces.ErrStorage, id, err)
	}

	peer, err := unmarshalPeer(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
	}
	return &peer, nil
}

// FindByName scans the directory for the first record with the username.
func (s *FileStore) FindByName(ctx context.Context, name interfaces.Username) (*interfaces.Peer, error) {
	peers, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, peer := range peers {
		if peer.Username == name {
			p := peer
			return &p, nil
		}
	}
	return nil, nil
}

// Update atomically replaces the record by key via rename.
func (s *FileStore) Update(ctx context.Context, peer interfaces.Peer) error {
	return s.write(peer)
}

// Delete removes the record for the user ID.
func (s *FileStore) Delete(ctx context.Context, id interfaces.UserID) error {
	if err := os.Remove(s.peerPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: deleting peer %s: %v", interfaces.ErrStorage, id, err)
	}
	return nil
}

// ListAll reads every record under the base directory.
func (s *FileStore) ListAll(ctx context.Context) ([]interfaces.Peer, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing store directory: %v", interfaces.ErrStorage, err)
	}

	peers := make([]interfaces.Peer, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if _, err := strconv.ParseInt(strings.TrimSuffix(entry.Name(), ".json"), 10, 64); err != nil {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", interfaces.ErrStorage, entry.Name(), err)
		}
		peer, err := unmarshalPeer(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
		}
		peers = append(peers, peer)
	}
	return peers, nil
}

// Count returns the number of records.
func (s *FileStore) Count(ctx context.Context) (int, error) {
	peers, err := s.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(peers), nil
}

// Name returns an identifier for logging.
func (s *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.baseDir))
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

// write serializes the peer and renames the document into place.
func (s *FileStore) write(peer interfaces.Peer) error {
	data, err := marshalPeer(peer)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
	}

	path := s.peerPath(peer.UserID)
	tmp, err := os.CreateTemp(s.baseDir, "peer-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", interfaces.ErrStorage, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing peer %s: %v", interfaces.ErrStorage, peer.UserID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing peer %s: %v", interfaces.ErrStorage, peer.UserID, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replacing peer %s: %v", interfaces.ErrStorage, peer.UserID, err)
	}

	s.log.Debug("Stored peer record", slog.String("path", path))
	return nil
}
