package domain

import "strings"

// EventTypeAuthCapture is the only notification that triggers
// reconciliation; everything else is acknowledged and discarded.
const EventTypeAuthCapture = "net.authcapture.created"

// CaptureEvent is a verified gateway notification that funds were
// captured, normalized for reconciliation.
type CaptureEvent struct {
	NotificationID string
	EventType      string
	TransactionID  string
	Amount         float64

	// InvoiceReference is the accounting system's invoice id recovered
	// from the event, either from the structured order field or parsed
	// out of the free-text description.
	InvoiceReference string

	RawPayload []byte
}

// IsCapture reports whether the event settles funds. The gateway
// prefixes event types with "net."; some integrations strip it.
func (e *CaptureEvent) IsCapture() bool {
	eventType := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e.EventType)), "net.")
	return eventType == strings.TrimPrefix(EventTypeAuthCapture, "net.")
}
