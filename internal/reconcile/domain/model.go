package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Provider identifies the gateway the ledger entries originate from.
const Provider = "authorizenet"

// Outcome is the business result of reconciling one capture event.
// Outcomes are not errors: only transport and auth failures propagate as
// errors.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomeOverpayment    Outcome = "overpayment"
	OutcomeNoInvoice      Outcome = "no_invoice_found"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeDuplicate      Outcome = "duplicate"
)

// EventRecord is the durable idempotency ledger entry for a gateway
// notification. The unique (provider, provider_event_id) key lets
// redeliveries short-circuit without touching the accounting system;
// the live invoice balance remains the second line of defense.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:idx_gateway_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:idx_gateway_events_provider_event"`
	TransactionID   string         `json:"transaction_id" gorm:"type:text;not null;index"`
	InvoiceID       string         `json:"invoice_id" gorm:"type:text;not null;index"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Amount          float64        `json:"amount" gorm:"not null"`
	Outcome         string         `json:"outcome" gorm:"type:text"`
	Payload         datatypes.JSON `json:"payload"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "gateway_events" }
