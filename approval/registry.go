// Package approval holds the ephemeral correlation between a registration
// request and the session to notify once the administrator decides.
//
// The registry is intentionally not durable: a process restart loses
// uncompleted requests, which is an accepted limitation of the design, not
// a contract.
package approval

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
)

// Registry is a concurrency-safe map of pending registration requests
// keyed by user ID.
type Registry struct {
	mu      sync.Mutex
	pending map[interfaces.UserID]interfaces.PendingRequest
	log     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		pending: make(map[interfaces.UserID]interfaces.PendingRequest),
		log:     log,
	}
}

// Register records a pending request. A second registration for the same
// user before an admin decision fails with ErrAlreadyPending and leaves
// the original request in place.
func (r *Registry) Register(req interfaces.PendingRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[req.UserID]; exists {
		return fmt.Errorf("%w: user %s", interfaces.ErrAlreadyPending, req.UserID)
	}

	r.pending[req.UserID] = req
	r.log.Debug("Registered pending request",
		slog.String("userID", req.UserID.String()),
		slog.String("username", req.Username.String()))
	return nil
}

// Consume removes and returns the pending request for a user. The second
// consume for the same registration reports no request.
func (r *Registry) Consume(id interfaces.UserID) (interfaces.PendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return req, ok
}

// Len returns the number of pending requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
