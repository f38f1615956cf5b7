package interfaces

import (
	"context"
	"net/netip"
)

// KeyGenerator produces a WireGuard keypair for a new peer. Implementations
// must be safe for concurrent use and must bound their own concurrency:
// one slow or hanging invocation must not stall unrelated requests.
type KeyGenerator interface {
	// Generate returns a fresh keypair. Failures, including deadline
	// expiry, wrap ErrToolInvocation. The call is synchronous and
	// single-attempt; no retry is performed.
	Generate(ctx context.Context) (Keypair, error)
}

// AddressAllocator derives a tunnel address for a peer from its user ID.
// Allocation is a pure function of the identifier: repeated calls for the
// same ID return the same address, and distinct IDs within the network's
// host range return pairwise-distinct addresses.
type AddressAllocator interface {
	// Allocate returns the single-host prefix assigned to the user ID, or
	// ErrAddressSpaceExhausted when the ID maps outside the network.
	Allocate(id UserID) (netip.Prefix, error)
}

// ConfigRenderer serializes a provisioned peer into a client configuration
// document and materializes it as an on-disk artifact.
type ConfigRenderer interface {
	// Render returns the rendered document and the artifact path.
	// Failures wrap ErrRender.
	Render(ctx context.Context, peer Peer) (data []byte, path string, err error)
}

// Notifier abstracts the messaging transport used to reach a session.
type Notifier interface {
	// Notify sends a text message to the session.
	Notify(ctx context.Context, session SessionHandle, message string) error

	// Deliver hands a rendered artifact to the session. Failures wrap
	// ErrDelivery.
	Deliver(ctx context.Context, session SessionHandle, filename string, artifact []byte) error
}

// NetworkGranter manages the live network grant for a provisioned peer on
// the tunnel endpoint. Both operations are idempotent: applying an existing
// grant or revoking an absent one is not an error.
type NetworkGranter interface {
	// Apply grants the peer live network access.
	Apply(ctx context.Context, peer Peer) error

	// Revoke removes any live network grant held by the peer.
	Revoke(ctx context.Context, peer Peer) error
}
