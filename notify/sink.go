// Package notify fans newly created alerts out to external sinks: signed
// webhooks, a Redis stream and a Kafka topic.
package notify

import (
	"context"

	"vigil/core"
)

// EventAlertCreated is the message type sent for every new alert
const EventAlertCreated = "alert.created"

// AlertMessage is the payload every sink delivers
type AlertMessage struct {
	Type  string      `json:"type"`
	Alert *core.Alert `json:"alert"`
	Event *core.Event `json:"event"`
}

// NewAlertMessage wraps an alert and the event that raised it
func NewAlertMessage(alert *core.Alert, event *core.Event) AlertMessage {
	return AlertMessage{Type: EventAlertCreated, Alert: alert, Event: event}
}

// Sink delivers alert messages to one destination
type Sink interface {
	Name() string
	Send(ctx context.Context, msg AlertMessage) error
}
