// Package httpserver exposes the provisioning service over HTTP: the
// member-facing registration and config endpoints, the token-protected
// admin endpoints, and the operational health and drain endpoints.
//
// The server binds two listeners: the API address and a separate metrics
// address scraped by Prometheus. Errors returned by the service layer are
// mapped to HTTP status codes by kind; response bodies are JSON.
package httpserver
