// Package notify provides the messaging transports used to reach a
// front-end session: a webhook transport posting JSON envelopes to the
// session's callback URL, and a log-only transport for development.
package notify
