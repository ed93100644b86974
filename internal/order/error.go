package order

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrUnhandledStatus   = errors.New("unhandled provider status code")
	ErrInvalidTransition = errors.New("invalid transition target")
)
