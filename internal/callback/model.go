package callback

import (
	"encoding/json"
	"time"
)

type FailedStatus string

const (
	FailedStatusPending   FailedStatus = "PENDING"
	FailedStatusCompleted FailedStatus = "COMPLETED"
)

// FailedCallback is one not-yet-delivered (or exhausted) forwarding attempt,
// upserted by payment id on every failed delivery. Exhausted records are
// never deleted automatically; an operator retries them by id.
type FailedCallback struct {
	ID          uint
	PaymentID   string
	ClientID    string
	CallbackURL string
	Payload     json.RawMessage
	RetryCount  int
	NextRetryAt *time.Time
	Status      FailedStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// CallbackLog is an immutable audit row for each inbound or outbound
// callback attempt. Merchants read their own rows through the delivery
// log endpoint, hence the wire tags.
type CallbackLog struct {
	ID        uint            `json:"id"`
	Direction Direction       `json:"direction"`
	PaymentID string          `json:"paymentId"`
	Target    string          `json:"target"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NotifyResponse is the signed envelope a merchant must return from its
// notify URL. ErrCode "0" is the only success value.
type NotifyResponse struct {
	ClientID   string `json:"clientId"`
	RequestID  string `json:"requestId"`
	ErrCode    string `json:"errCode"`
	ErrCodeDes string `json:"errCodeDes,omitempty"`
}
