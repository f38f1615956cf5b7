// Package peerstore provides durable storage for peer records keyed by
// user ID, with pluggable backends selected by location URI.
//
// Supported schemes:
//   - mem://                        in-memory store, for tests and development
//   - file:///var/lib/wireadmit    one JSON document per peer, atomic rename on update
//   - sqlite:///var/lib/wireadmit/peers.db   single-file database, UPSERT on update
//   - s3://bucket/prefix?region=…  S3 or compatible object storage
//   - vault://host:8200/secret/wireadmit?token=…  HashiCorp Vault KV v2
//
// Every backend implements the same contract: find misses are not errors,
// mutations fail loudly with the storage failure kind, and Update replaces
// the record by key atomically so concurrent readers never observe the
// peer transiently absent.
package peerstore
