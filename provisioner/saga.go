package provisioner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
	"github.com/wireadmit/wireguard-provisioning-backend/metrics"
)

// SagaState tracks the progress of one provisioning run.
type SagaState int

const (
	// StateApproved is the initial state: an approved peer exists.
	StateApproved SagaState = iota

	// StateKeysGenerated means a fresh keypair has been produced.
	StateKeysGenerated

	// StatePersisted means the provisioned record has been stored.
	StatePersisted

	// StateDelivered is the terminal success state.
	StateDelivered

	// StateRolledBack means compensations have run after a failure.
	StateRolledBack

	// StateFailed is the terminal failure state.
	StateFailed
)

// String returns the state name.
func (s SagaState) String() string {
	switch s {
	case StateApproved:
		return "approved"
	case StateKeysGenerated:
		return "keys_generated"
	case StatePersisted:
		return "persisted"
	case StateDelivered:
		return "delivered"
	case StateRolledBack:
		return "rolled_back"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// DefaultStoreTimeout bounds each peer store call inside the saga.
	DefaultStoreTimeout = 10 * time.Second

	// DefaultRenderTimeout bounds the artifact rendering step.
	DefaultRenderTimeout = 10 * time.Second
)

// Result carries the outcome of a successful provisioning run.
type Result struct {
	// Peer is the provisioned record as persisted.
	Peer interfaces.Peer

	// Artifact is the rendered client configuration document.
	Artifact []byte

	// ArtifactPath is the filesystem location of the artifact.
	ArtifactPath string
}

// Coordinator composes the key generator, address allocator, peer store
// and config renderer into the provisioning saga.
//
// Concurrent runs for the same user collapse into a single flight, closing
// the race where two config requests interleave and overwrite each other's
// keypair. Runs for distinct users proceed concurrently.
type Coordinator struct {
	keys     interfaces.KeyGenerator
	alloc    interfaces.AddressAllocator
	store    interfaces.PeerStore
	renderer interfaces.ConfigRenderer

	// granter, when set, is used defensively during rollback to revoke a
	// live grant applied outside the saga before persistence committed.
	granter interfaces.NetworkGranter

	storeTimeout  time.Duration
	renderTimeout time.Duration

	group singleflight.Group
	log   *slog.Logger
}

// CoordinatorOpts configures optional coordinator behavior.
type CoordinatorOpts struct {
	// Granter enables the defensive grant revocation compensation.
	Granter interfaces.NetworkGranter

	// StoreTimeout overrides DefaultStoreTimeout.
	StoreTimeout time.Duration

	// RenderTimeout overrides DefaultRenderTimeout.
	RenderTimeout time.Duration
}

// NewCoordinator creates a provisioning coordinator.
func NewCoordinator(keys interfaces.KeyGenerator, alloc interfaces.AddressAllocator, store interfaces.PeerStore, renderer interfaces.ConfigRenderer, opts CoordinatorOpts, log *slog.Logger) *Coordinator {
	storeTimeout := opts.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	renderTimeout := opts.RenderTimeout
	if renderTimeout <= 0 {
		renderTimeout = DefaultRenderTimeout
	}
	return &Coordinator{
		keys:          keys,
		alloc:         alloc,
		store:         store,
		renderer:      renderer,
		granter:       opts.Granter,
		storeTimeout:  storeTimeout,
		renderTimeout: renderTimeout,
		log:           log,
	}
}

// sagaRun carries the mutable state of one saga execution.
type sagaRun struct {
	sagaID string
	state  SagaState

	// prior is the record as it stood before the attempt; the persist
	// compensation restores it during rollback.
	prior interfaces.Peer

	// candidate is the record carrying the new keypair and address.
	candidate interfaces.Peer
}

// sagaStep pairs a forward action with its compensation. Compensations
// must be safe to invoke even when the forward step only partially
// completed.
type sagaStep struct {
	name       string
	run        func(ctx context.Context, run *sagaRun) error
	compensate func(ctx context.Context, run *sagaRun)
}

// Provision executes the saga for an existing approved peer. It returns
// ErrNotFound when no record exists for the user, or the failed step's
// error kind after compensations have run.
func (c *Coordinator) Provision(ctx context.Context, userID interfaces.UserID) (*Result, error) {
	v, err, _ := c.group.Do(userID.String(), func() (interface{}, error) {
		return c.provision(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (c *Coordinator) provision(ctx context.Context, userID interfaces.UserID) (*Result, error) {
	log := c.log.With(
		slog.String("sagaID", uuid.NewString()),
		slog.String("userID", userID.String()))

	peer, err := c.findPeer(ctx, userID)
	if err != nil {
		return nil, err
	}
	if peer == nil {
		return nil, fmt.Errorf("%w: user %s", interfaces.ErrNotFound, userID)
	}

	run := &sagaRun{
		state:     StateApproved,
		prior:     *peer,
		candidate: *peer,
	}

	var result *Result
	steps := []sagaStep{
		{
			name: "generate",
			run: func(ctx context.Context, run *sagaRun) error {
				kp, err := c.keys.Generate(ctx)
				if err != nil {
					return err
				}
				address, err := c.alloc.Allocate(run.candidate.UserID)
				if err != nil {
					return err
				}
				// Re-provisioning replaces any prior keypair and address.
				run.candidate.Keypair = &kp
				run.candidate.Address = address
				run.state = StateKeysGenerated
				return nil
			},
			// The generated keys were never externalized; discarding them
			// needs no cleanup.
			compensate: nil,
		},
		{
			name: "persist",
			run: func(ctx context.Context, run *sagaRun) error {
				ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
				defer cancel()
				if err := c.store.Update(ctx, run.candidate); err != nil {
					return fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
				}
				run.state = StatePersisted
				return nil
			},
			compensate: func(ctx context.Context, run *sagaRun) {
				// A live grant applied before persistence committed must
				// not survive the rollback. Revoking an absent grant is a
				// no-op, so this is safe even when no grant exists.
				if c.granter != nil {
					if err := c.granter.Revoke(ctx, run.candidate); err != nil {
						log.Error("Failed to revoke network grant during rollback", "err", err)
					}
				}

				// Restore the pre-attempt record so a retry starts from a
				// clean slate. The update is atomic, so a failed persist
				// left the prior record in place; restoring it again is
				// harmless.
				if run.state >= StatePersisted {
					ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
					defer cancel()
					if err := c.store.Update(ctx, run.prior); err != nil {
						log.Error("Failed to restore peer during rollback", "err", err)
					}
				}
			},
		},
		{
			name: "render",
			run: func(ctx context.Context, run *sagaRun) error {
				ctx, cancel := context.WithTimeout(ctx, c.renderTimeout)
				defer cancel()
				data, path, err := c.renderer.Render(ctx, run.candidate)
				if err != nil {
					return err
				}
				result = &Result{Peer: run.candidate, Artifact: data, ArtifactPath: path}
				return nil
			},
			// A failed render leaves at most a partial artifact behind;
			// the next successful render overwrites it.
			compensate: nil,
		},
	}

	for i, step := range steps {
		if err := step.run(ctx, run); err != nil {
			log.Error("Provisioning step failed",
				slog.String("step", step.name),
				slog.String("state", run.state.String()),
				"err", err)
			c.rollback(ctx, run, steps[:i+1], log)
			run.state = StateFailed
			metrics.RecordSagaOutcome("failed")
			return nil, err
		}
		log.Debug("Provisioning step completed", slog.String("step", step.name))
	}

	metrics.RecordSagaOutcome("provisioned")
	log.Info("Peer provisioned",
		slog.String("address", result.Peer.Address.String()),
		slog.String("publicKey", result.Peer.Keypair.PublicKey))
	return result, nil
}

// rollback runs compensations in reverse order, starting with the failed
// step itself: each compensation is safe to invoke when its forward step
// only partially completed. Errors are logged, never retried:
// provisioning is best-effort consistent, not transactionally guaranteed.
func (c *Coordinator) rollback(ctx context.Context, run *sagaRun, steps []sagaStep, log *slog.Logger) {
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if step.compensate == nil {
			continue
		}
		metrics.RecordCompensation(step.name)
		log.Debug("Running compensation", slog.String("step", step.name))
		step.compensate(ctx, run)
	}
	run.state = StateRolledBack
}

func (c *Coordinator) findPeer(ctx context.Context, userID interfaces.UserID) (*interfaces.Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	return c.store.FindByID(ctx, userID)
}
