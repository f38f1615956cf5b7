package wgconfig

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/miekg/dns"
)

// defaultResolver is the local stub resolver queried during preflight.
const defaultResolver = "127.0.0.53:53"

// PreflightEndpoint resolves the server endpoint's host so a typo in the
// deployment configuration is caught at startup rather than by the first
// client. Literal IP endpoints resolve trivially. resolverAddr may be empty
// to use the local stub resolver.
func PreflightEndpoint(endpoint, resolverAddr string) ([]string, error) {
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return []string{addr.String()}, nil
	}

	if resolverAddr == "" {
		resolverAddr = defaultResolver
	}

	m := new(dns.Msg)
	m.Id = dns.Id()
	m.RecursionDesired = true
	m.Question = []dns.Question{{
		Name:   dns.Fqdn(host),
		Qtype:  dns.TypeA,
		Qclass: dns.ClassINET,
	}}

	c := new(dns.Client)
	in, _, err := c.Exchange(m, resolverAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving %q via %s: %w", host, resolverAddr, err)
	}

	addrs := make([]string, 0, len(in.Answer))
	for _, answer := range in.Answer {
		if a, ok := answer.(*dns.A); ok {
			addrs = append(addrs, a.A.String())
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("endpoint host %q did not resolve to any address", host)
	}
	return addrs, nil
}
