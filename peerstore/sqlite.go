package peerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS peers (
	user_id     INTEGER PRIMARY KEY,
	username    TEXT NOT NULL,
	private_key TEXT NOT NULL DEFAULT '',
	public_key  TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS peers_username ON peers(username);
`

// SQLiteStore keeps peer records in a single-file SQLite database. Update
// is a single UPSERT statement, so replacement by key is atomic at the
// database level.
type SQLiteStore struct {
	db   *sql.DB
	path string
	log  *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string, log *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path, log: log}, nil
}

func sqliteColumns(peer interfaces.Peer) (privateKey, publicKey, address string) {
	if peer.Keypair != nil {
		privateKey = peer.Keypair.PrivateKey
		publicKey = peer.Keypair.PublicKey
	}
	if peer.Address.IsValid() {
		address = peer.Address.String()
	}
	return privateKey, publicKey, address
}

// Add inserts a new record.
func (s *SQLiteStore) Add(ctx context.Context, peer interfaces.Peer) error {
	privateKey, publicKey, address := sqliteColumns(peer)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO peers (user_id, username, private_key, public_key, address, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(peer.UserID), string(peer.Username), privateKey, publicKey, address,
		peer.State.String(), peer.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: user %s", interfaces.ErrDuplicatePeer, peer.UserID)
		}
		return fmt.Errorf("%w: inserting peer %s: %v", interfaces.ErrStorage, peer.UserID, err)
	}
	return nil
}

// FindByID returns the record for the user ID, or nil on a miss.
func (s *SQLiteStore) FindByID(ctx context.Context, id interfaces.UserID) (*interfaces.Peer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, private_key, public_key, address, state, created_at
		 FROM peers WHERE user_id = ?`, int64(id))
	return s.scanPeer(row)
}

// FindByName returns the first record with the username, or nil on a miss.
func (s *SQLiteStore) FindByName(ctx context.Context, name interfaces.Username) (*interfaces.Peer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, private_key, public_key, address, state, created_at
		 FROM peers WHERE username = ? ORDER BY user_id LIMIT 1`, string(name))
	return s.scanPeer(row)
}

// Update replaces the record by key with a single UPSERT.
func (s *SQLiteStore) Update(ctx context.Context, peer interfaces.Peer) error {
	privateKey, publicKey, address := sqliteColumns(peer)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO peers (user_id, username, private_key, public_key, address, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			private_key = excluded.private_key,
			public_key = excluded.public_key,
			address = excluded.address,
			state = excluded.state,
			created_at = excluded.created_at`,
		int64(peer.UserID), string(peer.Username), privateKey, publicKey, address,
		peer.State.String(), peer.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: updating peer %s: %v", interfaces.ErrStorage, peer.UserID, err)
	}
	return nil
}

// Delete removes the record for the user ID.
func (s *SQLiteStore) Delete(ctx context.Context, id interfaces.UserID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM peers WHERE user_id = ?`, int64(id)); err != nil {
		return fmt.Errorf("%w: deleting peer %s: %v", interfaces.ErrStorage, id, err)
	}
	return nil
}

// ListAll returns every record.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]interfaces.Peer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, username, private_key, public_key, address, state, created_at
		 FROM peers ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing peers: %v", interfaces.ErrStorage, err)
	}
	defer rows.Close()

	var peers []interfaces.Peer
	for rows.Next() {
		peer, err := scanPeerColumns(rows)
		if err != nil {
			return nil, err
		}
		peers = append(peers, *peer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing peers: %v", interfaces.ErrStorage, err)
	}
	return peers, nil
}

// Count returns the number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM peers`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: counting peers: %v", interfaces.ErrStorage, err)
	}
	return count, nil
}

// Name returns an identifier for logging.
func (s *SQLiteStore) Name() string {
	return fmt.Sprintf("sqlite-%s", filepath.Base(s.path))
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanPeer(row rowScanner) (*interfaces.Peer, error) {
	peer, err := scanPeerColumns(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return peer, err
}

func scanPeerColumns(row rowScanner) (*interfaces.Peer, error) {
	var (
		userID                         int64
		username                       string
		privateKey, publicKey, address string
		stateStr, createdAtStr         string
	)
	if err := row.Scan(&userID, &username, &privateKey, &publicKey, &address, &stateStr, &createdAtStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scanning peer row: %v", interfaces.ErrStorage, err)
	}

	rec := peerRecord{
		UserID:     userID,
		Username:   username,
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		Address:    address,
		State:      stateStr,
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing created_at: %v", interfaces.ErrStorage, err)
	}
	rec.CreatedAt = createdAt

	data, err := recordToPeer(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
	}
	return data, nil
}
