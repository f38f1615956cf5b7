package interfaces

import "errors"

// Error taxonomy for the provisioning pipeline. Components wrap these
// sentinels with fmt.Errorf("%w: ...") so callers can classify failures
// with errors.Is while still surfacing the underlying cause.
var (
	// ErrValidation is returned for malformed commands and duplicate
	// registrations.
	ErrValidation = errors.New("validation failed")

	// ErrToolInvocation is returned when the key-generation capability is
	// unavailable, exits with a failure status, or exceeds its deadline.
	ErrToolInvocation = errors.New("key generation failed")

	// ErrStorage is returned when a peer store operation fails due to
	// connectivity or serialization problems.
	ErrStorage = errors.New("peer storage failed")

	// ErrRender is returned when the client configuration artifact cannot
	// be produced or written.
	ErrRender = errors.New("config rendering failed")

	// ErrDelivery is returned when the rendered artifact cannot be handed
	// to the notification transport.
	ErrDelivery = errors.New("artifact delivery failed")

	// ErrNotFound is returned for operations on an unknown peer.
	ErrNotFound = errors.New("peer not found")

	// ErrAlreadyPending is returned when a registration request is already
	// waiting for an admin decision.
	ErrAlreadyPending = errors.New("registration already pending")

	// ErrAlreadyRegistered is returned when a durable peer record already
	// exists for the requester.
	ErrAlreadyRegistered = errors.New("account already registered")

	// ErrDuplicatePeer is returned when adding a peer whose user ID is
	// already present in the store.
	ErrDuplicatePeer = errors.New("peer already exists")

	// ErrAddressSpaceExhausted is returned when the user ID maps outside
	// the configured tunnel network.
	ErrAddressSpaceExhausted = errors.New("tunnel address space exhausted")
)
