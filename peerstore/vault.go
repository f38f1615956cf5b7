package peerstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
)

// VaultStore keeps one KV v2 secret per peer under
// {mount}/data/{dataPath}/peers/{user_id}. A KV write replaces the secret
// version atomically, satisfying the replace-by-key requirement.
type VaultStore struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// NewVaultStore creates a Vault-backed store. token may be empty when the
// environment provides one via VAULT_TOKEN.
func NewVaultStore(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultStore{
		client:    client,
		mountPath: mountPath,
		dataPath:  dataPath,
		log:       log,
	}, nil
}

func (s *VaultStore) dataKey(id interfaces.UserID) string {
	return fmt.Sprintf("%s/data/%s/peers/%s", s.mountPath, s.dataPath, id)
}

func (s *VaultStore) metadataKey(id interfaces.UserID) string {
	return fmt.Sprintf("%s/metadata/%s/peers/%s", s.mountPath, s.dataPath, id)
}

func (s *VaultStore) listKey() string {
	return fmt.Sprintf("%s/metadata/%s/peers", s.mountPath, s.dataPath)
}

// Add inserts a new record.
func (s *VaultStore) Add(ctx context.Context, peer interfaces.Peer) error {
	existing, err := s.FindByID(ctx, peer.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: user %s", interfaces.ErrDuplicatePeer, peer.UserID)
	}
	return s.write(ctx, peer)
}

// FindByID reads the secret for the user ID, or returns nil on a miss.
func (s *VaultStore) FindByID(ctx context.Context, id interfaces.UserID) (*interfaces.Peer, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.dataKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: reading peer %s: %v", interfaces.ErrStorage, id, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	data, ok := secret.Data["data"]
	if !ok {
		return nil, fmt.Errorf("%w: unexpected KV response for peer %s", interfaces.ErrStorage, id)
	}
	record, ok := data.(map[string]interface{})["record"]
	if !ok {
		return nil, fmt.Errorf("%w: record key missing for peer %s", interfaces.ErrStorage, id)
	}
	recordStr, ok := record.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected record format for peer %s", interfaces.ErrStorage, id)
	}

	peer, err := unmarshalPeer([]byte(recordStr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
	}
	return &peer, nil
}

// FindByName scans the stored peers for the first matching username.
func (s *VaultStore) FindByName(ctx context.Context, name interfaces.Username) (*interfaces.Peer, error) {
	peers, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, peer := range peers {
		if peer.Username == name {
			p := peer
			return &p, nil
		}
	}
	return nil, nil
}

// Update replaces the secret by key.
func (s *VaultStore) Update(ctx context.Context, peer interfaces.Peer) error {
	return s.write(ctx, peer)
}

// Delete removes the secret and its version metadata.
func (s *VaultStore) Delete(ctx context.Context, id interfaces.UserID) error {
	if _, err := s.client.Logical().DeleteWithContext(ctx, s.metadataKey(id)); err != nil {
		return fmt.Errorf("%w: deleting peer %s: %v", interfaces.ErrStorage, id, err)
	}
	return nil
}

// ListAll lists the peer secrets and reads each one.
func (s *VaultStore) ListAll(ctx context.Context) ([]interfaces.Peer, error) {
	secret, err := s.client.Logical().ListWithContext(ctx, s.listKey())
	if err != nil {
		return nil, fmt.Errorf("%w: listing peers: %v", interfaces.ErrStorage, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	peers := make([]interfaces.Peer, 0, len(keys))
	for _, key := range keys {
		keyStr, ok := key.(string)
		if !ok {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(keyStr, "%d", &id); err != nil {
			continue
		}
		peer, err := s.FindByID(ctx, interfaces.UserID(id))
		if err != nil {
			return nil, err
		}
		if peer != nil {
			peers = append(peers, *peer)
		}
	}
	return peers, nil
}

// Count returns the number of stored peers.
func (s *VaultStore) Count(ctx context.Context) (int, error) {
	secret, err := s.client.Logical().ListWithContext(ctx, s.listKey())
	if err != nil {
		return 0, fmt.Errorf("%w: counting peers: %v", interfaces.ErrStorage, err)
	}
	if secret == nil || secret.Data == nil {
		return 0, nil
	}
	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return 0, nil
	}
	return len(keys), nil
}

// Name returns an identifier for logging.
func (s *VaultStore) Name() string {
	return fmt.Sprintf("vault-%s-%s", s.mountPath, s.dataPath)
}

// Close is a no-op for the Vault store.
func (s *VaultStore) Close() error {
	return nil
}

func (s *VaultStore) write(ctx context.Context, peer interfaces.Peer) error {
	data, err := marshalPeer(peer)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"record": string(data),
		},
	}

	if _, err := s.client.Logical().WriteWithContext(ctx, s.dataKey(peer.UserID), secretData); err != nil {
		return fmt.Errorf("%w: storing peer %s: %v", interfaces.ErrStorage, peer.UserID, err)
	}

	s.log.Debug("Stored peer record in Vault", slog.String("path", s.dataKey(peer.UserID)))
	return nil
}
