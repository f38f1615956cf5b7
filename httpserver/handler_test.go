package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wireadmit/wireguard-provisioning-backend/approval"
	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
	"github.com/wireadmit/wireguard-provisioning-backend/ipalloc"
	"github.com/wireadmit/wireguard-provisioning-backend/peerstore"
	"github.com/wireadmit/wireguard-provisioning-backend/provisioner"
)

const testAdminToken = "test-admin-token"

// fakeKeys returns a fixed keypair without invoking any tooling.
type fakeKeys struct{}

func (fakeKeys) Generate(context.Context) (interfaces.Keypair, error) {
	return interfaces.Keypair{
		PrivateKey: "cHJpdmF0ZS1rZXktZml4dHVyZS1mb3ItdGVzdHMtQUE=",
		PublicKey:  "cHVibGljLWtleS1maXh0dXJlLWZvci10ZXN0c3h4QkI=",
	}, nil
}

// fakeRenderer returns a canned artifact without touching the filesystem.
type fakeRenderer struct{}

func (fakeRenderer) Render(_ context.Context, peer interfaces.Peer) ([]byte, string, error) {
	return []byte("[Interface]\n"), "/tmp/" + peer.Username.String() + ".conf", nil
}

// recordingNotifier captures outbound notifications per session.
type recordingNotifier struct {
	mu        sync.Mutex
	messages  map[interfaces.SessionHandle][]string
	delivered map[interfaces.SessionHandle][][]byte
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		messages:  make(map[interfaces.SessionHandle][]string),
		delivered: make(map[interfaces.SessionHandle][][]byte),
	}
}

func (n *recordingNotifier) Notify(_ context.Context, session interfaces.SessionHandle, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages[session] = append(n.messages[session], message)
	return nil
}

func (n *recordingNotifier) Deliver(_ context.Context, session interfaces.SessionHandle, _ string, artifact []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered[session] = append(n.delivered[session], artifact)
	return nil
}

func (n *recordingNotifier) deliveredTo(session interfaces.SessionHandle) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.delivered[session])
}

type apiFixture struct {
	router   http.Handler
	store    interfaces.PeerStore
	notifier *recordingNotifier
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := peerstore.NewMemoryStore(log)
	t.Cleanup(func() { store.Close() })

	alloc, err := ipalloc.NewOffsetAllocator(netip.MustParsePrefix("10.0.0.0/24"), ipalloc.DefaultReservedHosts)
	require.NoError(t, err)

	notifier := newRecordingNotifier()
	coordinator := provisioner.NewCoordinator(fakeKeys{}, alloc, store, fakeRenderer{}, provisioner.CoordinatorOpts{}, log)
	service := provisioner.NewService(coordinator, approval.NewRegistry(log), store, notifier, "session:admin", nil, log)

	srv, err := New(&HTTPServerConfig{
		ListenAddr: "127.0.0.1:0",
		AdminToken: testAdminToken,
		Log:        log,
	}, NewHandler(service, log))
	require.NoError(t, err)

	return &apiFixture{router: srv.getRouter(), store: store, notifier: notifier}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if admin {
		req.Header.Set(AdminTokenHeader, testAdminToken)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) registerAndApprove(t *testing.T, userID int64, username string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/register", RegisterRequest{
		UserID: userID, Username: username, Session: "session:" + username,
	}, false)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/admin/decision", DecisionRequest{
		UserID: userID, Username: username, Approve: true,
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/register", RegisterRequest{
		UserID: 42, Username: "alice", Session: "session:alice",
	}, false)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, provisioner.MsgRequestSent, resp.Status)
}

func TestRegisterRejectsTraversalUsername(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/register", RegisterRequest{
		UserID: 42, Username: "../../etc/cron.d/evil", Session: "session:x",
	}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterConflictWhilePending(t *testing.T) {
	f := newAPIFixture(t)

	body := RegisterRequest{UserID: 42, Username: "alice", Session: "session:alice"}
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/v1/register", body, false).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/v1/register", body, false).Code)
}

func TestApprovalFlowProvisionsConfig(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAndApprove(t, 42, "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/peers/42/config", ConfigRequest{Session: "session:alice"}, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string `json:"status"`
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "delivered", resp.Status)
	assert.Equal(t, "/tmp/alice.conf", resp.Detail)
	assert.Equal(t, 1, f.notifier.deliveredTo("session:alice"))

	peer, err := f.store.FindByID(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, peer)
	assert.True(t, peer.Provisioned())
	assert.Equal(t, "10.0.0.44/32", peer.Address.String())
}

func TestConfigRequestBeforeRegistration(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/peers/7/config", ConfigRequest{Session: "session:x"}, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigRequestMalformedUserID(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/peers/not-a-number/config", ConfigRequest{Session: "s"}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRejectionLeavesNoPeer(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/register", RegisterRequest{
		UserID: 42, Username: "alice", Session: "session:alice",
	}, false)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/admin/decision", DecisionRequest{
		UserID: 42, Username: "alice", Approve: false,
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	peer, err := f.store.FindByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, peer)
}

func TestDecisionWithoutPendingRequestIs404(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/admin/decision", DecisionRequest{
		UserID: 42, Username: "alice", Approve: true,
	}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPeersRedactsPrivateKeys(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAndApprove(t, 42, "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/peers/42/config", ConfigRequest{Session: "session:alice"}, false)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/admin/peers", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "alice", resp.Peers[0].Username)
	assert.True(t, resp.Peers[0].Provisioned)
	assert.NotEmpty(t, resp.Peers[0].PublicKey)
	assert.NotContains(t, rec.Body.String(), "cHJpdmF0ZS1rZXktZml4dHVyZS1mb3ItdGVzdHMtQUE=")
}

func TestRemovePeer(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAndApprove(t, 42, "alice")

	rec := f.do(t, http.MethodDelete, "/api/v1/admin/peers/42", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	peer, err := f.store.FindByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, peer)
}

func TestRemoveUnknownPeerIs404(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodDelete, "/api/v1/admin/peers/7", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHelpEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/help", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "WireGuard")
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/livez", nil, false).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", nil, false).Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/drain", nil, false).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/readyz", nil, false).Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/undrain", nil, false).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", nil, false).Code)
}
