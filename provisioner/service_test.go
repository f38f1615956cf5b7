package provisioner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wireadmit/wireguard-provisioning-backend/approval"
	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
)

const (
	adminSession = interfaces.SessionHandle("session:admin")
	aliceSession = interfaces.SessionHandle("session:alice")
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, session interfaces.SessionHandle, message string) error {
	return m.Called(ctx, session, message).Error(0)
}

func (m *MockNotifier) Deliver(ctx context.Context, session interfaces.SessionHandle, filename string, artifact []byte) error {
	return m.Called(ctx, session, filename, artifact).Error(0)
}

type serviceFixture struct {
	service  *Service
	registry *approval.Registry
	store    *MockStore
	keys     *MockKeyGenerator
	alloc    *MockAllocator
	renderer *MockRenderer
	notifier *MockNotifier
	granter  *MockGranter
}

func newServiceFixture(t *testing.T, granter interfaces.NetworkGranter) *serviceFixture {
	t.Helper()
	log := testLogger()
	f := &serviceFixture{
		registry: approval.NewRegistry(log),
		store:    new(MockStore),
		keys:     new(MockKeyGenerator),
		alloc:    new(MockAllocator),
		renderer: new(MockRenderer),
		notifier: new(MockNotifier),
	}
	if g, ok := granter.(*MockGranter); ok {
		f.granter = g
	}
	coordinator := NewCoordinator(f.keys, f.alloc, f.store, f.renderer, CoordinatorOpts{}, log)
	f.service = NewService(coordinator, f.registry, f.store, f.notifier, adminSession, granter, log)
	return f
}

func TestRegisterForwardsToAdmin(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.store.On("FindByID", mock.Anything, interfaces.UserID(42)).Return(nil, nil).Once()
	f.notifier.On("Notify", mock.Anything, adminSession, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "alice") && strings.Contains(msg, "42")
	})).Return(nil).Once()

	msg, err := f.service.HandleRegister(context.Background(), 42, "alice", aliceSession)
	require.NoError(t, err)
	assert.Equal(t, MsgRequestSent, msg)
	assert.Equal(t, 1, f.registry.Len())
	f.notifier.AssertExpectations(t)
}

func TestRegisterDuplicateWhilePending(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.store.On("FindByID", mock.Anything, interfaces.UserID(42)).Return(nil, nil).Twice()
	f.notifier.On("Notify", mock.Anything, adminSession, mock.Anything).Return(nil).Once()

	_, err := f.service.HandleRegister(context.Background(), 42, "alice", aliceSession)
	require.NoError(t, err)

	msg, err := f.service.HandleRegister(context.Background(), 42, "alice", aliceSession)
	require.ErrorIs(t, err, interfaces.ErrAlreadyPending)
	assert.Equal(t, MsgAlreadyPending, msg)

	// The original request stays queued; the admin is not notified twice.
	assert.Equal(t, 1, f.registry.Len())
	f.notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestRegisterAlreadyRegistered(t *testing.T) {
	f := newServiceFixture(t, nil)
	peer := approvedPeer(42, "alice")
	f.store.On("FindByID", mock.Anything, interfaces.UserID(42)).Return(&peer, nil).Once()

	msg, err := f.service.HandleRegister(context.Background(), 42, "alice", aliceSession)
	require.ErrorIs(t, err, interfaces.ErrAlreadyRegistered)
	assert.Equal(t, MsgAlreadyRegistered, msg)
	assert.Equal(t, 0, f.registry.Len())
}

func TestRegisterRejectsBadUsername(t *testing.T) {
	f := newServiceFixture(t, nil)
	_, err := f.service.HandleRegister(context.Background(), 42, "../../etc/cron.d/evil", aliceSession)
	require.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestApproveWritesPeerAndNotifiesRequester(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.store.On("FindByID", mock.Anything, interfaces.UserID(42)).Return(nil, nil).Once()
	f.notifier.On("Notify", mock.Anything, adminSession, mock.Anything).Return(nil).Once()
	f.store.On("FindByName", mock.Anything, interfaces.Username("alice")).Return(nil, nil).Once()
	f.store.On("Add", mock.Anything, mock.MatchedBy(func(p interfaces.Peer) bool {
		return p.UserID == 42 && p.State == interfaces.StateApproved && !p.Provisioned()
	})).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, aliceSession, MsgApproved).Return(nil).Once()

	_, err := f.service.HandleRegister(context.Background(), 42, "alice", aliceSession)
	require.NoError(t, err)

	err = f.service.HandleAdminDecision(context.Background(), true, 42, "alice")
	require.NoError(t, err)

	assert.Equal(t, 0, f.registry.Len())
	f.store.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestRejectLeavesNoDurableState(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.store.On("FindByID", mock.Anything, interfaces.UserID(42)).Return(nil, nil).Once()
	f.notifier.On("Notify", mock.Anything, adminSession, mock.Anything).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, aliceSession, MsgRejected).Return(nil).Once()

	_, err := f.service.HandleRegister(context.Background(), 42, "alice", aliceSession)
	require.NoError(t, err)

	err = f.service.HandleAdminDecision(context.Background(), false, 42, "alice")
	require.NoError(t, err)

	assert.Equal(t, 0, f.registry.Len())
	f.store.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
	f.notifier.AssertExpectations(t)
}

func TestApproveRejectsTakenUsername(t *testing.T) {
	f := newServiceFixture(t, nil)
	other := approvedPeer(7, "alice")

	f.store.On("FindByID", mock.Anything, interfaces.UserID(42)).Return(nil, nil).Once()
	f.notifier.On("Notify", mock.Anything, adminSession, mock.Anything).Return(nil)
	f.store.On("FindByName", mock.Anything, interfaces.Username("alice")).Return(&other, nil).Once()

	_, err := f.service.HandleRegister(context.Background(), 42, "alice", aliceSession)
	require.NoError(t, err)

	err = f.service.HandleAdminDecision(context.Background(), true, 42, "alice")
	require.ErrorIs(t, err, interfaces.ErrDuplicatePeer)
	f.store.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
}

func TestDecisionWithoutPendingRequest(t *testing.T) {
	f := newServiceFixture(t, nil)
	err := f.service.HandleAdminDecision(context.Background(), true, 42, "alice")
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestDecisionConsumedOnlyOnce(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.store.On("FindByID", mock.Anything, interfaces.UserID(42)).Return(nil, nil).Once()
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.store.On("FindByName", mock.Anything, interfaces.Username("alice")).Return(nil, nil).Once()
	f.store.On("Add", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := f.service.HandleRegister(context.Background(), 42, "alice", aliceSession)
	require.NoError(t, err)

	require.NoError(t, f.service.HandleAdminDecision(context.Background(), true, 42, "alice"))
	err = f.service.HandleAdminDecision(context.Background(), true, 42, "alice")
	require.ErrorIs(t, err, interfaces.ErrNotFound)
	f.store.AssertNumberOfCalls(t, "Add", 1)
}

func TestConfigRequestDeliversArtifact(t *testing.T) {
	f := newServiceFixture(t, nil)
	peer := approvedPeer(42, "alice")

	f.store.On("FindByID", mock.Anything, interfaces.UserID(42)).Return(&peer, nil).Once()
	f.keys.On("Generate", mock.Anything).Return(testKeypair, nil).Once()
	f.alloc.On("Allocate", interfaces.UserID(42)).Return(testAddress, nil).Once()
	f.store.On("Update", mock.Anything, mock.Anything).Return(nil).Once()
	f.renderer.On("Render", mock.Anything, mock.Anything).
		Return([]byte("rendered"), "/tmp/alice.conf", nil).Once()
	f.notifier.On("Deliver", mock.Anything, aliceSession, "alice.conf", []byte("rendered")).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, aliceSession, MsgConfigReady).Return(nil).Once()

	result, err := f.service.HandleConfigRequest(context.Background(), 42, aliceSession)
	require.NoError(t, err)
	require.NotNil(t, result)
	f.notifier.AssertExpectations(t)
}

func TestConfigRequestUnregisteredUser(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.store.On("FindByID", mock.Anything, interfaces.UserID(7)).Return(nil, nil).Once()
	f.notifier.On("Notify", mock.Anything, aliceSession, MsgRegisterFirst).Return(nil).Once()

	_, err := f.service.HandleConfigRequest(context.Background(), 7, aliceSession)
	require.ErrorIs(t, err, interfaces.ErrNotFound)
	f.notifier.AssertExpectations(t)
}

func TestConfigRequestFailureNotifiesBothParties(t *testing.T) {
	f := newServiceFixture(t, nil)
	peer := approvedPeer(42, "alice")

	f.store.On("FindByID", mock.Anything, interfaces.UserID(42)).Return(&peer, nil).Twice()
	f.keys.On("Generate", mock.Anything).Return(testKeypair, nil).Once()
	f.alloc.On("Allocate", interfaces.UserID(42)).Return(testAddress, nil).Once()
	f.store.On("Update", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	f.notifier.On("Notify", mock.Anything, aliceSession, MsgCannotProvision).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, adminSession, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "alice") && strings.Contains(msg, "disk full")
	})).Return(nil).Once()

	_, err := f.service.HandleConfigRequest(context.Background(), 42, aliceSession)
	require.ErrorIs(t, err, interfaces.ErrStorage)
	f.notifier.AssertExpectations(t)
}

func TestDeliveryFailureDoesNotRollBack(t *testing.T) {
	f := newServiceFixture(t, nil)
	peer := approvedPeer(42, "alice")

	f.store.On("FindByID", mock.Anything, interfaces.UserID(42)).Return(&peer, nil).Once()
	f.keys.On("Generate", mock.Anything).Return(testKeypair, nil).Once()
	f.alloc.On("Allocate", interfaces.UserID(42)).Return(testAddress, nil).Once()
	f.store.On("Update", mock.Anything, mock.Anything).Return(nil).Once()
	f.renderer.On("Render", mock.Anything, mock.Anything).
		Return([]byte("rendered"), "/tmp/alice.conf", nil).Once()
	f.notifier.On("Deliver", mock.Anything, aliceSession, "alice.conf", mock.Anything).
		Return(errors.New("session gone")).Once()
	f.notifier.On("Notify", mock.Anything, aliceSession, MsgCannotDeliver).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, adminSession, mock.Anything).Return(nil).Once()

	result, err := f.service.HandleConfigRequest(context.Background(), 42, aliceSession)
	require.ErrorIs(t, err, interfaces.ErrDelivery)

	// The provisioned record survives a delivery failure; only the
	// transfer needs a retry.
	require.NotNil(t, result)
	assert.True(t, result.Peer.Provisioned())
	f.store.AssertNumberOfCalls(t, "Update", 1)
}

func TestConfigRequestAppliesGrant(t *testing.T) {
	granter := new(MockGranter)
	f := newServiceFixture(t, granter)
	peer := approvedPeer(42, "alice")

	f.store.On("FindByID", mock.Anything, interfaces.UserID(42)).Return(&peer, nil).Once()
	f.keys.On("Generate", mock.Anything).Return(testKeypair, nil).Once()
	f.alloc.On("Allocate", interfaces.UserID(42)).Return(testAddress, nil).Once()
	f.store.On("Update", mock.Anything, mock.Anything).Return(nil).Once()
	f.renderer.On("Render", mock.Anything, mock.Anything).
		Return([]byte("rendered"), "/tmp/alice.conf", nil).Once()
	f.notifier.On("Deliver", mock.Anything, aliceSession, "alice.conf", mock.Anything).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, aliceSession, MsgConfigReady).Return(nil).Once()
	granter.On("Apply", mock.Anything, mock.MatchedBy(func(p interfaces.Peer) bool {
		return p.Provisioned()
	})).Return(nil).Once()

	_, err := f.service.HandleConfigRequest(context.Background(), 42, aliceSession)
	require.NoError(t, err)
	granter.AssertExpectations(t)
}

func TestRemoveRevokesAndDeletes(t *testing.T) {
	granter := new(MockGranter)
	f := newServiceFixture(t, granter)
	peer := approvedPeer(42, "alice")
	peer.Keypair = &testKeypair
	peer.Address = testAddress

	f.store.On("FindByID", mock.Anything, interfaces.UserID(42)).Return(&peer, nil).Once()
	granter.On("Revoke", mock.Anything, mock.Anything).Return(nil).Once()
	f.store.On("Delete", mock.Anything, interfaces.UserID(42)).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, aliceSession, MsgRemoved).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, adminSession, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "alice") && strings.Contains(msg, "removed")
	})).Return(nil).Once()

	err := f.service.HandleRemove(context.Background(), 42, aliceSession)
	require.NoError(t, err)
	granter.AssertExpectations(t)
	f.store.AssertExpectations(t)
}

func TestRemoveUnknownPeer(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.store.On("FindByID", mock.Anything, interfaces.UserID(7)).Return(nil, nil).Once()
	f.notifier.On("Notify", mock.Anything, adminSession, mock.Anything).Return(nil).Once()

	err := f.service.HandleRemove(context.Background(), 7, "")
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRemoveUnprovisionedSkipsRevoke(t *testing.T) {
	granter := new(MockGranter)
	f := newServiceFixture(t, granter)
	peer := approvedPeer(42, "alice")

	f.store.On("FindByID", mock.Anything, interfaces.UserID(42)).Return(&peer, nil).Once()
	f.store.On("Delete", mock.Anything, interfaces.UserID(42)).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, adminSession, mock.Anything).Return(nil).Once()

	err := f.service.HandleRemove(context.Background(), 42, "")
	require.NoError(t, err)
	granter.AssertNotCalled(t, "Revoke", mock.Anything, mock.Anything)
}

func TestListPeers(t *testing.T) {
	f := newServiceFixture(t, nil)
	peers := []interfaces.Peer{approvedPeer(1, "alice"), approvedPeer(2, "bob")}
	f.store.On("ListAll", mock.Anything).Return(peers, nil).Once()
	f.store.On("Count", mock.Anything).Return(2, nil).Once()

	got, count, err := f.service.ListPeers(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, count)
}

func TestHelpText(t *testing.T) {
	f := newServiceFixture(t, nil)
	help := f.service.Help()
	assert.Contains(t, help, "WireGuard")
	assert.Contains(t, help, "Register")
}
