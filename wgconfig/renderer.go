// Package wgconfig renders client-ready WireGuard configuration artifacts
// for provisioned peers.
package wgconfig

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
)

// ServerParams holds the fixed remote-peer parameters of a deployment: the
// server's public key and endpoint, the traffic range routed through the
// tunnel, and the resolver handed to clients.
type ServerParams struct {
	// PublicKey is the server's WireGuard public key.
	PublicKey string

	// Endpoint is the server's host:port.
	Endpoint string

	// AllowedIPs is the CIDR range routed through the tunnel.
	AllowedIPs string

	// DNS is the resolver address written into client configs.
	DNS string
}

// Validate checks that every parameter parses.
func (p ServerParams) Validate() error {
	if len(p.PublicKey) != interfaces.KeyLength {
		return fmt.Errorf("server public key has length %d, want %d", len(p.PublicKey), interfaces.KeyLength)
	}
	if _, _, err := net.SplitHostPort(p.Endpoint); err != nil {
		return fmt.Errorf("invalid server endpoint %q: %w", p.Endpoint, err)
	}
	if _, err := netip.ParsePrefix(p.AllowedIPs); err != nil {
		return fmt.Errorf("invalid allowed ips %q: %w", p.AllowedIPs, err)
	}
	if _, err := netip.ParseAddr(p.DNS); err != nil {
		return fmt.Errorf("invalid dns resolver %q: %w", p.DNS, err)
	}
	return nil
}

// Renderer serializes a peer's keypair, address and the fixed server
// parameters into a client configuration document and writes it under the
// configured output directory.
type Renderer struct {
	outputDir string
	server    ServerParams
	log       *slog.Logger
}

// NewRenderer creates a renderer writing artifacts into outputDir, which is
// created if absent.
func NewRenderer(outputDir string, server ServerParams, log *slog.Logger) (*Renderer, error) {
	if err := server.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server parameters: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Renderer{outputDir: outputDir, server: server, log: log}, nil
}

// Render produces the two-section configuration document for a provisioned
// peer and writes it to a file derived from the sanitized username. The
// username is attacker-influenced and is validated before touching the
// filesystem.
func (r *Renderer) Render(ctx context.Context, peer interfaces.Peer) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", interfaces.ErrRender, err)
	}
	if !peer.Provisioned() {
		return nil, "", fmt.Errorf("%w: peer %s is not provisioned", interfaces.ErrRender, peer.UserID)
	}

	name, err := peer.Username.Sanitize()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", interfaces.ErrRender, err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[Interface]\n")
	fmt.Fprintf(&buf, "PrivateKey = %s\n", peer.Keypair.PrivateKey)
	fmt.Fprintf(&buf, "Address = %s\n", peer.Address)
	fmt.Fprintf(&buf, "DNS = %s\n", r.server.DNS)
	fmt.Fprintf(&buf, "\n[Peer]\n")
	fmt.Fprintf(&buf, "PublicKey = %s\n", r.server.PublicKey)
	fmt.Fprintf(&buf, "Endpoint = %s\n", r.server.Endpoint)
	fmt.Fprintf(&buf, "AllowedIPs = %s\n", r.server.AllowedIPs)

	path := filepath.Join(r.outputDir, name+".conf")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return nil, "", fmt.Errorf("%w: writing %s: %v", interfaces.ErrRender, path, err)
	}

	r.log.Debug("Rendered client config",
		slog.String("path", path),
		slog.String("peer", peer.UserID.String()))
	return buf.Bytes(), path, nil
}
