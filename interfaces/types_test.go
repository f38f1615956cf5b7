package interfaces

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsernameSanitize(t *testing.T) {
	tests := []struct {
		name     string
		username Username
		wantErr  bool
	}{
		{"simple", "alice", false},
		{"with digits", "alice42", false},
		{"with separators", "alice.bob-c_d", false},
		{"empty", "", true},
		{"slash", "alice/../../etc/passwd", true},
		{"backslash", `alice\config`, true},
		{"traversal", "..", true},
		{"hidden traversal", "a..b", true},
		{"leading dot", ".alice", true},
		{"space", "alice bob", true},
		{"too long", Username(strings.Repeat("a", 80)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.username.Sanitize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, string(tt.username), s)
		})
	}
}

func TestKeypairValidate(t *testing.T) {
	valid := strings.Repeat("A", KeyLength)

	require.NoError(t, Keypair{PrivateKey: valid, PublicKey: valid}.Validate())
	assert.Error(t, Keypair{PrivateKey: "short", PublicKey: valid}.Validate())
	assert.Error(t, Keypair{PrivateKey: valid, PublicKey: ""}.Validate())
}

func TestPeerProvisioned(t *testing.T) {
	key := strings.Repeat("A", KeyLength)
	peer := Peer{
		UserID:    42,
		Username:  "alice",
		State:     StateApproved,
		CreatedAt: time.Now(),
	}

	assert.False(t, peer.Provisioned())
	require.NoError(t, peer.Validate())

	peer.Keypair = &Keypair{PrivateKey: key, PublicKey: key}
	assert.Error(t, peer.Validate(), "keypair without address violates the pairing invariant")

	peer.Address = netip.MustParsePrefix("10.0.0.44/32")
	assert.True(t, peer.Provisioned())
	require.NoError(t, peer.Validate())
}

func TestApprovalStateRoundTrip(t *testing.T) {
	for _, state := range []ApprovalState{StatePending, StateApproved} {
		parsed, err := ParseApprovalState(state.String())
		require.NoError(t, err)
		assert.Equal(t, state, parsed)
	}

	_, err := ParseApprovalState("bogus")
	assert.Error(t, err)
}
