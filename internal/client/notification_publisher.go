package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fieldware/be-mnt-workorders/internal/natsutil"
)

// NotificationPublisher publishes work-order lifecycle events to NATS
// JetStream for consumption by the notifications service.
//
// Subject convention: notifications.mnt.<event_type>
// Event types: work_order_submitted, work_order_approved, work_order_rejected,
//              completion_requested, completion_approved, completion_rejected
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so notification failures never interrupt a
// lifecycle transition.
type NotificationPublisher struct {
	nats *natsutil.Client
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Title        string         `json:"title,omitempty"`
	Message      string         `json:"message,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS client.
func NewNotificationPublisher(nats *natsutil.Client, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// PublishWorkOrderEvent publishes a lifecycle event to NATS.
// Subject: notifications.mnt.<eventType>
func (p *NotificationPublisher) PublishWorkOrderEvent(ctx context.Context, eventType, workOrderID, actorID string, recipients []string, title, message string, payload map[string]any) {
	if p.nats == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "work_order",
		ResourceID:   workOrderID,
		Title:        title,
		Message:      message,
		Severity:     "info",
		Category:     "mnt_lifecycle",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.mnt.%s", eventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("work_order_id", workOrderID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("work_order_id", workOrderID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
