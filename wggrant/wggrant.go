// Package wggrant manages live network grants on a kernel WireGuard
// device: applying a provisioned peer's public key and tunnel address to
// the device, and removing them on revocation.
package wggrant

import (
	"context"
	"fmt"
	"net"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
)

// DeviceGranter applies and revokes peer grants on a named WireGuard
// device through the kernel control interface. A fresh control client is
// opened per call; the netlink socket is cheap and holding one open would
// pin the process to the device's lifetime.
type DeviceGranter struct {
	device string
}

// NewDeviceGranter creates a granter for the named WireGuard device.
func NewDeviceGranter(device string) *DeviceGranter {
	return &DeviceGranter{device: device}
}

// Apply installs the peer's public key and tunnel address on the device.
// Re-applying an existing grant updates it in place.
func (g *DeviceGranter) Apply(_ context.Context, peer interfaces.Peer) error {
	if !peer.Provisioned() {
		return fmt.Errorf("%w: peer %s has no keypair or address", interfaces.ErrValidation, peer.UserID)
	}

	key, allowedIP, err := grantParams(peer)
	if err != nil {
		return err
	}

	return g.configure(wgtypes.PeerConfig{
		PublicKey:         key,
		ReplaceAllowedIPs: true,
		AllowedIPs:        []net.IPNet{allowedIP},
	})
}

// Revoke removes the peer's grant from the device. Revoking an absent
// grant is not an error.
func (g *DeviceGranter) Revoke(_ context.Context, peer interfaces.Peer) error {
	if peer.Keypair == nil {
		return nil
	}

	key, err := wgtypes.ParseKey(peer.Keypair.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: invalid public key: %v", interfaces.ErrValidation, err)
	}

	return g.configure(wgtypes.PeerConfig{
		PublicKey: key,
		Remove:    true,
	})
}

func (g *DeviceGranter) configure(peerCfg wgtypes.PeerConfig) error {
	wg, err := wgctrl.New()
	if err != nil {
		return fmt.Errorf("failed to create wireguard control client: %w", err)
	}
	defer wg.Close()

	cfg := wgtypes.Config{
		ReplacePeers: false,
		Peers:        []wgtypes.PeerConfig{peerCfg},
	}
	if err := wg.ConfigureDevice(g.device, cfg); err != nil {
		return fmt.Errorf("failed to configure wireguard device %q: %w", g.device, err)
	}
	return nil
}

func grantParams(peer interfaces.Peer) (wgtypes.Key, net.IPNet, error) {
	key, err := wgtypes.ParseKey(peer.Keypair.PublicKey)
	if err != nil {
		return wgtypes.Key{}, net.IPNet{}, fmt.Errorf("%w: invalid public key: %v", interfaces.ErrValidation, err)
	}

	addr := peer.Address.Addr()
	bits := addr.BitLen()
	allowedIP := net.IPNet{
		IP:   addr.AsSlice(),
		Mask: net.CIDRMask(peer.Address.Bits(), bits),
	}
	return key, allowedIP, nil
}
