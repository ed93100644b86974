package order

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
	StatusExpired Status = "EXPIRED"
	StatusCancel  Status = "CANCEL"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s != StatusPending
}

type Instrument string

const (
	InstrumentQRIS   Instrument = "QRIS"
	InstrumentVA     Instrument = "VA"
	InstrumentVASnap Instrument = "VA_SNAP"
	InstrumentCard   Instrument = "CARD"
	InstrumentEmoney Instrument = "EMONEY"
)

// Provider transaction status codes carried by inbound webhooks.
const (
	CodePaid    = "00"
	CodeExpired = "05"
	CodeFailed  = "06"
	CodeCancel  = "07"
)

// Order is one payment attempt, keyed for webhooks by PaymentID (the
// provider trade number, unique and immutable after creation).
type Order struct {
	ID                uint
	OrderID           string
	PaymentID         string
	UserID            uint
	ClientID          string
	Amount            int64
	Status            Status
	Instrument        Instrument
	PaymentExpired    *time.Time
	InstrumentPayload json.RawMessage
	ProviderResponse  json.RawMessage
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProviderEvent is the inbound notification after signature verification,
// before status-code mapping.
type ProviderEvent struct {
	PaymentID  string          `json:"paymentId"`
	StatusCode string          `json:"statusCode"`
	Amount     int64           `json:"amount"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Event is the normalized form forwarded to the owning merchant.
type Event struct {
	PaymentID  string    `json:"paymentId"`
	OrderID    string    `json:"orderId"`
	ClientID   string    `json:"clientId"`
	Status     Status    `json:"paymentStatus"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Result reports what a transition did. Applied is false for idempotent
// duplicates; Event is only set when a real state change happened.
type Result struct {
	Order   *Order
	Applied bool
	Event   *Event
}
