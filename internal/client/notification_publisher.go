package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/domain"
)

// NotificationPublisher publishes approval lifecycle events to NATS for
// consumption by the notifications service.
//
// Subject convention: notifications.approvals.<kind>
// Kinds: reminder, escalation, resolved
//
// Publish failures are reported to the caller, which logs them as non-fatal —
// the state transition is already committed by the time an instruction
// reaches this publisher.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	Kind         string         `json:"kind"`
	RequestID    string         `json:"request_id"`
	RequestCode  string         `json:"request_code"`
	Recipients   []string       `json:"recipients"`
	ChannelHints []string       `json:"channel_hints,omitempty"`
	Category     string         `json:"category"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher connects to NATS and returns a publisher. An empty
// URL returns a disabled publisher that drops all events.
func NewNotificationPublisher(url string, log zerolog.Logger) (*NotificationPublisher, error) {
	if url == "" {
		log.Warn().Msg("NATS URL not configured; notifications disabled")
		return &NotificationPublisher{log: log}, nil
	}
	conn, err := nats.Connect(url,
		nats.Name("be-plt-approvals"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NotificationPublisher{conn: conn, log: log}, nil
}

// Close drains the underlying connection.
func (p *NotificationPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}

// Notify publishes one notification instruction.
// Subject: notifications.approvals.<kind, lowercased>
func (p *NotificationPublisher) Notify(ctx context.Context, n domain.Notification) error {
	if p.conn == nil {
		return nil
	}
	if len(n.Recipients) == 0 {
		return nil
	}

	event := &NotificationEvent{
		Kind:         n.Kind,
		RequestID:    n.RequestID,
		RequestCode:  n.RequestCode,
		Recipients:   n.Recipients,
		ChannelHints: n.ChannelHints,
		Category:     "approvals",
		Payload:      n.Payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification event: %w", err)
	}

	subject := "notifications.approvals." + subjectKind(n.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", n.RequestID).
		Int("recipients", len(n.Recipients)).
		Msg("notification: event published")
	return nil
}

func subjectKind(kind string) string {
	switch kind {
	case domain.NotifyReminder:
		return "reminder"
	case domain.NotifyEscalation:
		return "escalation"
	case domain.NotifyResolved:
		return "resolved"
	}
	return "other"
}
