package domain

import "errors"

var (
	ErrGateway          = errors.New("gateway_error")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrEventIgnored     = errors.New("event_ignored")
)
