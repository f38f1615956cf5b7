package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
	"github.com/wireadmit/wireguard-provisioning-backend/metrics"
)

// DefaultRequestTimeout bounds one webhook delivery attempt.
const DefaultRequestTimeout = 30 * time.Second

// messageEnvelope is the JSON body posted for a plain text message.
type messageEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// documentEnvelope is the JSON body posted for an artifact. Content is
// base64-encoded so binary-safe transports and JSON agree on the payload.
type documentEnvelope struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// WebhookNotifier posts notification envelopes to the callback URL carried
// in the session handle.
type WebhookNotifier struct {
	client *http.Client
	log    *slog.Logger
}

// NewWebhookNotifier creates a webhook transport with the given request
// timeout. A non-positive timeout falls back to DefaultRequestTimeout.
func NewWebhookNotifier(timeout time.Duration, log *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Notify posts a text message envelope to the session callback URL.
func (n *WebhookNotifier) Notify(ctx context.Context, session interfaces.SessionHandle, message string) error {
	return n.post(ctx, session, messageEnvelope{Type: "message", Message: message})
}

// Deliver posts an artifact envelope to the session callback URL. Failures
// wrap ErrDelivery.
func (n *WebhookNotifier) Deliver(ctx context.Context, session interfaces.SessionHandle, filename string, artifact []byte) error {
	err := n.post(ctx, session, documentEnvelope{
		Type:     "document",
		Filename: filename,
		Content:  base64.StdEncoding.EncodeToString(artifact),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrDelivery, err)
	}
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, session interfaces.SessionHandle, envelope interface{}) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal notification envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, session.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.RecordNotification("error")
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordNotification("error")
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notification request failed with code %d: %s", resp.StatusCode, string(respBody))
	}

	metrics.RecordNotification("ok")
	return nil
}

// LogNotifier writes notifications to the structured log instead of a
// transport. Useful for development and for running without a front-end.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-only notification transport.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs the message.
func (n *LogNotifier) Notify(_ context.Context, session interfaces.SessionHandle, message string) error {
	n.log.Info("Notification",
		slog.String("session", session.String()),
		slog.String("message", message))
	return nil
}

// Deliver logs the artifact metadata without its content.
func (n *LogNotifier) Deliver(_ context.Context, session interfaces.SessionHandle, filename string, artifact []byte) error {
	n.log.Info("Artifact delivery",
		slog.String("session", session.String()),
		slog.String("filename", filename),
		slog.Int("size", len(artifact)))
	return nil
}
