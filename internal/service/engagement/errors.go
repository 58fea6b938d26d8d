package engagement

import "errors"

// Sentinel errors for the engagement service layer.
var (
	ErrTokenNotFound    = errors.New("tracking token not found")
	ErrInvalidEventType = errors.New("invalid event type")
	ErrStateNotFound    = errors.New("recipient state not found")
)
