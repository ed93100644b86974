package callback

import "errors"

var (
	ErrCallbackNotFound = errors.New("failed callback not found")
)
