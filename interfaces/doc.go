// Package interfaces defines the core types and contracts for the WireGuard
// peer provisioning system. It provides the contract between components
// without implementation details: the Peer data model, the error taxonomy,
// and the interfaces implemented by the key generator, address allocator,
// config renderer, peer store, and notification transport.
package interfaces
