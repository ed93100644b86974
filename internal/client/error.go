package client

import "errors"

var (
	ErrClientNotFound = errors.New("client not found")
	ErrClientInactive = errors.New("client is not active")
	ErrBadCredentials = errors.New("invalid client credentials")
)
