// Package ipalloc derives tunnel addresses for peers from their user IDs.
//
// Allocation is a pure function over a configured IPv4 network: the user ID
// is used directly as a host offset past the reserved addresses at the
// bottom of the range. There is no allocation state to persist or free, so
// repeated calls are trivially idempotent; IDs mapping outside the host
// range fail with an explicit exhaustion error instead of wrapping around.
package ipalloc

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
)

// DefaultReservedHosts skips the network address and the server's own
// tunnel address at the bottom of the range.
const DefaultReservedHosts = 2

// OffsetAllocator maps user IDs to single-host prefixes inside an IPv4
// network.
type OffsetAllocator struct {
	network   netip.Prefix
	firstHost uint32
	lastHost  uint32
}

// NewOffsetAllocator creates an allocator over network. reservedHosts
// addresses at the bottom of the range are never handed out; zero falls
// back to DefaultReservedHosts.
func NewOffsetAllocator(network netip.Prefix, reservedHosts uint32) (*OffsetAllocator, error) {
	if !network.IsValid() {
		return nil, fmt.Errorf("network cidr is required")
	}
	network = network.Masked()
	if !network.Addr().Is4() {
		return nil, fmt.Errorf("only ipv4 network cidr is supported")
	}
	if network.Bits() > 30 {
		return nil, fmt.Errorf("network %s has no allocatable hosts", network)
	}
	if reservedHosts == 0 {
		reservedHosts = DefaultReservedHosts
	}

	base := network.Addr().As4()
	start := binary.BigEndian.Uint32(base[:])
	hostBits := 32 - network.Bits()
	size := uint32(1) << hostBits

	// The bottom of the range covers the network address and any reserved
	// hosts; the top excludes the broadcast address.
	firstHost := start + reservedHosts
	lastHost := start + size - 2
	if firstHost > lastHost {
		return nil, fmt.Errorf("network %s too small for %d reserved hosts", network, reservedHosts)
	}

	return &OffsetAllocator{
		network:   network,
		firstHost: firstHost,
		lastHost:  lastHost,
	}, nil
}

// Network returns the network the allocator spans.
func (a *OffsetAllocator) Network() netip.Prefix {
	return a.network
}

// Capacity returns the number of allocatable host addresses.
func (a *OffsetAllocator) Capacity() uint32 {
	return a.lastHost - a.firstHost + 1
}

// Allocate returns the /32 prefix assigned to the user ID. Distinct IDs
// within the host range yield pairwise-distinct addresses; IDs past the
// range fail with ErrAddressSpaceExhausted.
func (a *OffsetAllocator) Allocate(id interfaces.UserID) (netip.Prefix, error) {
	if id < 0 {
		return netip.Prefix{}, fmt.Errorf("%w: negative user id %d", interfaces.ErrValidation, id)
	}

	offset := uint64(id)
	if offset > uint64(a.lastHost-a.firstHost) {
		return netip.Prefix{}, fmt.Errorf("%w: user id %d exceeds host range of %s",
			interfaces.ErrAddressSpaceExhausted, id, a.network)
	}

	var b [4]byte
	binary.BigEndian.PutUint32(b[:], a.firstHost+uint32(offset))
	return netip.PrefixFrom(netip.AddrFrom4(b), 32), nil
}
