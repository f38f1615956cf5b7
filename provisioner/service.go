package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wireadmit/wireguard-provisioning-backend/approval"
	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
)

// User-facing responses. The requester always receives a terminal
// response, never silence.
const (
	MsgRequestSent       = "Request is sent to admin"
	MsgAlreadyPending    = "Your request is already waiting for admin approval"
	MsgAlreadyRegistered = "This account is already registered"
	MsgApproved          = "Congrats! Admin's approved your request, now you can get a config"
	MsgRejected          = "Sorry, admin's rejected your request"
	MsgRegisterFirst     = "Register first"
	MsgConfigReady       = "Open it with WireGuard"
	MsgCannotProvision   = "Sorry, cannot generate config"
	MsgCannotDeliver     = "Sorry, cannot send config"
	MsgRemoved           = "Your access has been removed"
	MsgHelp              = "Hello! Quick start:\n" +
		"0. Install a WireGuard client.\n" +
		"1. Register.\n" +
		"2. Get config.\n" +
		"3. Open the config with your WireGuard client."
)

// Service implements the request events arriving from the messaging
// front-end. Command parsing and admin identification happen at the
// transport boundary; the service only sees typed requests.
type Service struct {
	coordinator *Coordinator
	registry    *approval.Registry
	store       interfaces.PeerStore
	notifier    interfaces.Notifier

	// adminSession is the one channel that receives diagnostics.
	adminSession interfaces.SessionHandle

	// granter, when set, applies the live network grant after a
	// successful provisioning run and revokes it on removal.
	granter interfaces.NetworkGranter

	log *slog.Logger
}

// NewService creates the request-event service.
func NewService(coordinator *Coordinator, registry *approval.Registry, store interfaces.PeerStore, notifier interfaces.Notifier, adminSession interfaces.SessionHandle, granter interfaces.NetworkGranter, log *slog.Logger) *Service {
	return &Service{
		coordinator:  coordinator,
		registry:     registry,
		store:        store,
		notifier:     notifier,
		adminSession: adminSession,
		granter:      granter,
		log:          log,
	}
}

// HandleRegister records a pending access request and forwards it to the
// administrator. The returned message is the terminal response for the
// requester.
func (s *Service) HandleRegister(ctx context.Context, userID interfaces.UserID, username interfaces.Username, session interfaces.SessionHandle) (string, error) {
	if err := username.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrValidation, err)
	}

	existing, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return MsgAlreadyRegistered, fmt.Errorf("%w: user %s", interfaces.ErrAlreadyRegistered, userID)
	}

	err = s.registry.Register(interfaces.PendingRequest{
		UserID:      userID,
		Username:    username,
		Session:     session,
		RequestedAt: time.Now(),
	})
	if err != nil {
		return MsgAlreadyPending, err
	}

	s.notifyAdmin(ctx, fmt.Sprintf("@%s %s requests access", username, userID))
	s.log.Info("Registration request recorded",
		slog.String("userID", userID.String()),
		slog.String("username", username.String()))
	return MsgRequestSent, nil
}

// HandleAdminDecision resolves a pending request. Approval writes the
// durable peer record; rejection leaves no durable state. Either way the
// requester is notified through the session the registry recorded.
func (s *Service) HandleAdminDecision(ctx context.Context, approve bool, userID interfaces.UserID, username interfaces.Username) error {
	if err := username.Validate(); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrValidation, err)
	}

	req, ok := s.registry.Consume(userID)
	if !ok {
		return fmt.Errorf("%w: no pending request for user %s", interfaces.ErrNotFound, userID)
	}

	if !approve {
		s.notify(ctx, req.Session, MsgRejected)
		s.log.Info("Request rejected", slog.String("userID", userID.String()))
		return nil
	}

	// Usernames name the rendered artifact, so two peers must not share
	// one.
	taken, err := s.store.FindByName(ctx, username)
	if err != nil {
		return err
	}
	if taken != nil && taken.UserID != userID {
		s.notifyAdmin(ctx, fmt.Sprintf("Cannot add peer %s: username taken by user %s", username, taken.UserID))
		return fmt.Errorf("%w: username %s taken by user %s", interfaces.ErrDuplicatePeer, username, taken.UserID)
	}

	peer := interfaces.Peer{
		UserID:    userID,
		Username:  username,
		State:     interfaces.StateApproved,
		CreatedAt: time.Now(),
	}
	if err := s.store.Add(ctx, peer); err != nil {
		s.notifyAdmin(ctx, fmt.Sprintf("Cannot add peer %s: %v", username, err))
		return err
	}

	s.notify(ctx, req.Session, MsgApproved)
	s.log.Info("Request approved",
		slog.String("userID", userID.String()),
		slog.String("username", username.String()))
	return nil
}

// HandleConfigRequest runs the provisioning saga for the requester and
// delivers the rendered artifact. Delivery failure is reported but does
// not roll back persistence or rendering: the peer stays provisioned so a
// retry of delivery alone can succeed without regenerating keys.
func (s *Service) HandleConfigRequest(ctx context.Context, userID interfaces.UserID, session interfaces.SessionHandle) (*Result, error) {
	result, err := s.coordinator.Provision(ctx, userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			s.notify(ctx, session, MsgRegisterFirst)
			return nil, err
		}
		s.notify(ctx, session, MsgCannotProvision)
		// Name the peer in the diagnostic when the record is reachable;
		// fall back to the numeric ID when the store itself is down.
		label := userID.String()
		if peer, lookupErr := s.store.FindByID(ctx, userID); lookupErr == nil && peer != nil {
			label = peer.Username.String()
		}
		s.notifyAdmin(ctx, fmt.Sprintf("Cannot provision peer %s: %v", label, err))
		return nil, err
	}

	peer := result.Peer
	if err := s.notifier.Deliver(ctx, session, peer.Username.String()+".conf", result.Artifact); err != nil {
		s.notify(ctx, session, MsgCannotDeliver)
		s.notifyAdmin(ctx, fmt.Sprintf("Cannot send config to %s: %v", peer.Username, err))
		return result, fmt.Errorf("%w: %v", interfaces.ErrDelivery, err)
	}
	s.notify(ctx, session, MsgConfigReady)

	// The live grant is applied only after the provisioned record is
	// durable; a grant failure leaves the peer provisioned and is
	// surfaced to the admin for a manual retry.
	if s.granter != nil {
		if err := s.granter.Apply(ctx, peer); err != nil {
			s.notifyAdmin(ctx, fmt.Sprintf("Cannot apply network grant for %s: %v", peer.Username, err))
			s.log.Error("Failed to apply network grant", "err", err,
				slog.String("userID", userID.String()))
		}
	}

	s.log.Info("Config delivered", slog.String("userID", userID.String()))
	return result, nil
}

// HandleRemove revokes any live grant held by the peer and deletes its
// record. The admin session receives the outcome; when the caller knows
// the member's session it is notified of the removal too.
func (s *Service) HandleRemove(ctx context.Context, userID interfaces.UserID, session interfaces.SessionHandle) error {
	peer, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if peer == nil {
		s.notifyAdmin(ctx, fmt.Sprintf("Cannot find peer %s", userID))
		return fmt.Errorf("%w: user %s", interfaces.ErrNotFound, userID)
	}

	if s.granter != nil && peer.Provisioned() {
		if err := s.granter.Revoke(ctx, *peer); err != nil {
			// Keep going: the record must not outlive a revocation
			// attempt, and revoke is retried on the next remove.
			s.log.Error("Failed to revoke network grant", "err", err,
				slog.String("userID", userID.String()))
		}
	}

	if err := s.store.Delete(ctx, userID); err != nil {
		s.notifyAdmin(ctx, fmt.Sprintf("Cannot delete peer %s: %v", peer.Username, err))
		return err
	}

	if session != "" {
		s.notify(ctx, session, MsgRemoved)
	}
	s.notifyAdmin(ctx, fmt.Sprintf("Peer %s removed", peer.Username))
	s.log.Info("Peer removed", slog.String("userID", userID.String()))
	return nil
}

// ListPeers returns every durable record plus the total count.
func (s *Service) ListPeers(ctx context.Context) ([]interfaces.Peer, int, error) {
	peers, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.store.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return peers, count, nil
}

// Help returns the quick-start text shown to new users.
func (s *Service) Help() string {
	return MsgHelp
}

func (s *Service) notify(ctx context.Context, session interfaces.SessionHandle, message string) {
	if err := s.notifier.Notify(ctx, session, message); err != nil {
		s.log.Error("Failed to notify session", "err", err,
			slog.String("session", session.String()))
	}
}

func (s *Service) notifyAdmin(ctx context.Context, message string) {
	s.notify(ctx, s.adminSession, message)
}
