package core

import "errors"

var (
	// ErrInvalidRequest indicates missing or malformed completion request input.
	ErrInvalidRequest = errors.New("invalid completion request")
	// ErrMissingAPIKey indicates missing provider API key.
	ErrMissingAPIKey = errors.New("missing api key")
)
