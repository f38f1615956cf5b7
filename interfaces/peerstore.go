package interfaces

import "context"

// PeerStore provides durable CRUD over peer records keyed by user ID.
//
// Find methods return (nil, nil) on a miss; a miss is not an error. All
// mutating operations fail with an error wrapping ErrStorage on
// connectivity or serialization failure, never partially and never
// silently. Update must be implemented as an atomic replace-by-key: a
// concurrent reader must never observe the peer transiently absent during
// an update.
type PeerStore interface {
	// Add inserts a new peer record. Returns ErrDuplicatePeer if a record
	// with the same user ID already exists.
	Add(ctx context.Context, peer Peer) error

	// FindByID returns the peer with the given user ID, or nil on a miss.
	FindByID(ctx context.Context, id UserID) (*Peer, error)

	// FindByName returns the first peer with the given username, or nil
	// on a miss.
	FindByName(ctx context.Context, name Username) (*Peer, error)

	// Update atomically replaces the record with the same user ID.
	Update(ctx context.Context, peer Peer) error

	// Delete removes the record with the given user ID. Deleting an
	// absent record is not an error.
	Delete(ctx context.Context, id UserID) error

	// ListAll returns every peer record.
	ListAll(ctx context.Context) ([]Peer, error)

	// Count returns the number of peer records.
	Count(ctx context.Context) (int, error)

	// Name returns an identifier for logging.
	Name() string

	// Close releases any resources held by the store.
	Close() error
}
