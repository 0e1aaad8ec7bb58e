package events

import "context"

// Event types
const (
	EventContractStatusChanged = "contract_status_changed"
	// EventContractPending is published when a transition's ledger call timed
	// out and the contract keeps its claim until reconciled.
	EventContractPending  = "contract_pending"
	EventPaymentCompleted = "payment_completed"
	EventSettlementDebt   = "settlement_debt"
)

// Streams
const (
	StreamContract = "events:contract"
	StreamPayment  = "events:payment"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
