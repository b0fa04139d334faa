package event

import "errors"

var (
	ErrUnknownStreamType = errors.New("event: unknown stream type")
	ErrUnknownEventType  = errors.New("event: unknown event type")
	ErrInvalidInput      = errors.New("event: invalid input")
	ErrNotFound          = errors.New("event: not found")
	ErrAlreadyProcessed  = errors.New("event: already processed")
)
