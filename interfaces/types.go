package interfaces

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"
)

// KeyLength is the length of a base64-encoded 32-byte WireGuard key.
const KeyLength = 44

// UserID is the stable integer identifier of a network member. It is unique
// across all peers and serves as the primary key for durable records.
type UserID int64

// String returns the decimal representation of the user ID.
func (id UserID) String() string {
	return fmt.Sprintf("%d", id)
}

// usernameRegex accepts display labels that are safe to use as a path
// component: letters, digits, dots, dashes and underscores, not starting
// with a dot.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]{0,63}$`)

// Username is a display label for a peer. The value originates from the
// messaging front-end and is attacker-influenced; it must pass Sanitize
// before being used as a filesystem path component.
type Username string

// String returns the username as a string.
func (name Username) String() string {
	return string(name)
}

// Sanitize validates the username for use as a path component. It rejects
// empty names, path separators, traversal sequences and any character
// outside the allowed label set.
func (name Username) Sanitize() (string, error) {
	s := string(name)
	if s == "" {
		return "", errors.New("username is empty")
	}
	if strings.ContainsAny(s, "/\\") || strings.Contains(s, "..") {
		return "", fmt.Errorf("username %q contains path separators or traversal sequences", s)
	}
	if !usernameRegex.MatchString(s) {
		return "", fmt.Errorf("username %q contains disallowed characters", s)
	}
	return s, nil
}

// Validate checks the username without returning the sanitized form.
func (name Username) Validate() error {
	_, err := name.Sanitize()
	return err
}

// Keypair holds a WireGuard private and public key. Both keys are present
// or the Keypair pointer on a Peer is nil; a record never carries one
// without the other.
type Keypair struct {
	PrivateKey string
	PublicKey  string
}

// Validate checks that both keys have the expected encoded length.
func (kp Keypair) Validate() error {
	if len(kp.PrivateKey) != KeyLength {
		return fmt.Errorf("private key has length %d, want %d", len(kp.PrivateKey), KeyLength)
	}
	if len(kp.PublicKey) != KeyLength {
		return fmt.Errorf("public key has length %d, want %d", len(kp.PublicKey), KeyLength)
	}
	return nil
}

// ApprovalState tracks the admin decision recorded on a durable peer.
type ApprovalState int

const (
	// StatePending indicates a record awaiting an admin decision. Durable
	// records are only written once approved, so this state is normally
	// observed only as the zero value of in-flight requests.
	StatePending ApprovalState = iota

	// StateApproved indicates the administrator approved the request.
	StateApproved
)

// String returns the state name.
func (s ApprovalState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateApproved:
		return "approved"
	default:
		return "unknown"
	}
}

// ParseApprovalState converts a state name back to its value.
func ParseApprovalState(s string) (ApprovalState, error) {
	switch s {
	case "pending":
		return StatePending, nil
	case "approved":
		return StateApproved, nil
	default:
		return StatePending, fmt.Errorf("unknown approval state %q", s)
	}
}

// Peer is the unit of persisted state: a durable record of an approved,
// possibly-provisioned network endpoint.
type Peer struct {
	// UserID is the primary key. At most one peer exists per user ID.
	UserID UserID

	// Username is the display label supplied by the front-end. Untrusted.
	Username Username

	// Keypair is nil until the peer is provisioned.
	Keypair *Keypair

	// Address is the allocated tunnel address. Present if and only if
	// Keypair is present.
	Address netip.Prefix

	// State records the admin decision.
	State ApprovalState

	// CreatedAt is the timestamp of approval.
	CreatedAt time.Time
}

// Provisioned reports whether the peer carries both a keypair and a tunnel
// address. Provisioning is atomic from the data model's perspective: the
// two fields are always set or cleared together.
func (p Peer) Provisioned() bool {
	return p.Keypair != nil && p.Address.IsValid()
}

// Validate checks the record invariants: a valid username and the
// keypair/address pairing.
func (p Peer) Validate() error {
	if err := p.Username.Validate(); err != nil {
		return err
	}
	if (p.Keypair != nil) != p.Address.IsValid() {
		return errors.New("keypair and address must be set together")
	}
	if p.Keypair != nil {
		return p.Keypair.Validate()
	}
	return nil
}

// SessionHandle identifies the front-end session or channel to notify, for
// example a webhook callback URL or a chat identifier.
type SessionHandle string

// String returns the session handle as a string.
func (s SessionHandle) String() string {
	return string(s)
}

// PendingRequest is the ephemeral approval-registry entry correlating a
// requester with the session to notify once the administrator decides.
// It is not durable; a process restart loses uncompleted requests.
type PendingRequest struct {
	UserID      UserID
	Username    Username
	Session     SessionHandle
	RequestedAt time.Time
}
