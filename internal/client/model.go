package client

import "time"

// Client is a registered merchant tenant. NotifyURL is where the forwarder
// delivers normalized events; PublicKey verifies the merchant's signed
// responses and SecretHash authenticates inbound partner requests.
type Client struct {
	ID         uint
	ClientID   string
	Name       string
	NotifyURL  string
	PublicKey  string
	SecretHash string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
