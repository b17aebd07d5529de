package model

// EventKind is the gateway-neutral kind of an inbound payment event.
type EventKind string

// Payment event kinds
const (
	EventPaymentCompleted EventKind = "PAYMENT_COMPLETED"
	EventPaymentRefunded  EventKind = "PAYMENT_REFUNDED"
	EventIgnored          EventKind = "IGNORED"
)

// PaymentEvent is a verified gateway event reduced to the fields the unlock
// state machine needs.
type PaymentEvent struct {
	ID          string    `json:"id"`
	Kind        EventKind `json:"kind"`
	GatewayType string    `json:"gateway_type"`
	ArtifactID  string    `json:"artifact_id,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	PaymentID   string    `json:"payment_id,omitempty"`
}

// Inbox status constants
const (
	InboxReceived   = "RECEIVED"
	InboxProcessing = "PROCESSING"
	InboxProcessed  = "PROCESSED"
	InboxFailed     = "FAILED"
)

// InboxEvent is a PaymentEvent as recorded in the webhook inbox.
type InboxEvent struct {
	PaymentEvent
	Payload   string  `json:"-"`
	Status    string  `json:"status"`
	Attempts  int     `json:"attempts"`
	LastError *string `json:"last_error,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}
