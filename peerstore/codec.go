package peerstore

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
)

// peerRecord is the serialized form of a peer shared by the document-style
// backends (file, s3, vault).
type peerRecord struct {
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	PrivateKey string    `json:"private_key,omitempty"`
	PublicKey  string    `json:"public_key,omitempty"`
	Address    string    `json:"address,omitempty"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

func marshalPeer(peer interfaces.Peer) ([]byte, error) {
	rec := peerRecord{
		UserID:    int64(peer.UserID),
		Username:  string(peer.Username),
		State:     peer.State.String(),
		CreatedAt: peer.CreatedAt,
	}
	if peer.Keypair != nil {
		rec.PrivateKey = peer.Keypair.PrivateKey
		rec.PublicKey = peer.Keypair.PublicKey
	}
	if peer.Address.IsValid() {
		rec.Address = peer.Address.String()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize peer %s: %w", peer.UserID, err)
	}
	return data, nil
}

func unmarshalPeer(data []byte) (interfaces.Peer, error) {
	var rec peerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return interfaces.Peer{}, fmt.Errorf("failed to parse peer record: %w", err)
	}

	peer, err := recordToPeer(rec)
	if err != nil {
		return interfaces.Peer{}, err
	}
	return *peer, nil
}

func recordToPeer(rec peerRecord) (*interfaces.Peer, error) {
	state, err := interfaces.ParseApprovalState(rec.State)
	if err != nil {
		return nil, err
	}

	peer := &interfaces.Peer{
		UserID:    interfaces.UserID(rec.UserID),
		Username:  interfaces.Username(rec.Username),
		State:     state,
		CreatedAt: rec.CreatedAt,
	}
	if rec.PrivateKey != "" || rec.PublicKey != "" {
		peer.Keypair = &interfaces.Keypair{
			PrivateKey: rec.PrivateKey,
			PublicKey:  rec.PublicKey,
		}
	}
	if rec.Address != "" {
		prefix, err := netip.ParsePrefix(rec.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to parse peer address %q: %w", rec.Address, err)
		}
		peer.Address = prefix
	}
	return peer, nil
}
