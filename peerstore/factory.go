package peerstore

import (
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
)

// ErrInvalidLocationURI is returned when a store location URI is malformed
// or names an unsupported scheme.
var ErrInvalidLocationURI = fmt.Errorf("invalid store location URI")

// Factory creates peer stores from location URIs.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a store factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// StoreFor creates a peer store from a location URI.
// The URI format is [scheme]://[host][/path][?params].
//
// Supported schemes:
//   - mem:// - in-memory storage
//   - file:// - local filesystem, one document per peer
//   - sqlite:// - single-file SQLite database
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *Factory) StoreFor(locationURI string) (interfaces.PeerStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mem":
		return NewMemoryStore(f.log), nil
	case "file":
		return f.createFileStore(u)
	case "sqlite":
		return f.createSQLiteStore(u)
	case "s3":
		return f.createS3Store(u)
	case "vault":
		return f.createVaultStore(u)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, u.Scheme)
	}
}

// createFileStore creates a filesystem store.
// URI format: file:///var/lib/wireadmit/peers
func (f *Factory) createFileStore(u *url.URL) (interfaces.PeerStore, error) {
	dir := u.Path
	if u.Host != "" {
		dir = filepath.Join(u.Host, u.Path)
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: file store requires a directory path", ErrInvalidLocationURI)
	}
	f.log.Debug("Creating file peer store", slog.String("dir", dir))
	return NewFileStore(dir, f.log)
}

// createSQLiteStore creates a SQLite store.
// URI format: sqlite:///var/lib/wireadmit/peers.db
func (f *Factory) createSQLiteStore(u *url.URL) (interfaces.PeerStore, error) {
	path := u.Path
	if u.Host != "" {
		path = filepath.Join(u.Host, u.Path)
	}
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite store requires a database path", ErrInvalidLocationURI)
	}
	f.log.Debug("Creating sqlite peer store", slog.String("path", path))
	return NewSQLiteStore(path, f.log)
}

// createS3Store creates an S3 store.
// URI format: s3://bucket/prefix?region=eu-west-1&endpoint=...&access_key=...&secret_key=...
func (f *Factory) createS3Store(u *url.URL) (interfaces.PeerStore, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 store requires a bucket name", ErrInvalidLocationURI)
	}

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	accessKey := query.Get("access_key")
	secretKey := query.Get("secret_key")
	if u.User != nil {
		accessKey = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			secretKey = pw
		}
	}

	f.log.Debug("Creating s3 peer store",
		slog.String("bucket", bucket),
		slog.String("region", region))
	return NewS3Store(bucket, strings.TrimPrefix(u.Path, "/"), region, query.Get("endpoint"), accessKey, secretKey, f.log)
}

// createVaultStore creates a Vault store.
// URI format: vault://vault.example.com:8200/secret/wireadmit?token=...&tls=true
func (f *Factory) createVaultStore(u *url.URL) (interfaces.PeerStore, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: vault store requires a server address", ErrInvalidLocationURI)
	}

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: vault store requires a mount and data path", ErrInvalidLocationURI)
	}

	query := u.Query()
	scheme := "http"
	if query.Get("tls") == "true" {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	f.log.Debug("Creating vault peer store",
		slog.String("address", address),
		slog.String("mount", parts[0]))
	return NewVaultStore(address, parts[0], parts[1], query.Get("token"), f.log)
}
