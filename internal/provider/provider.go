package provider

import (
	"context"
	"encoding/json"
)

// NormalizedStatus is the whitelisted vocabulary the rest of the system
// understands. Anything the provider says that is not explicitly mapped
// stays PENDING; a terminal state is never guessed.
type NormalizedStatus string

const (
	StatusPaid    NormalizedStatus = "PAID"
	StatusExpired NormalizedStatus = "EXPIRED"
	StatusFailed  NormalizedStatus = "FAILED"
	StatusCancel  NormalizedStatus = "CANCEL"
	StatusPending NormalizedStatus = "PENDING"
)

// StatusResult is one provider status query outcome.
type StatusResult struct {
	PaymentID string
	RawStatus string
	Status    NormalizedStatus
	Raw       json.RawMessage
}

// StatusClient queries a provider for the current state of a payment.
type StatusClient interface {
	GetStatus(ctx context.Context, paymentID string) (*StatusResult, error)
}
