package hub

import "errors"

// Hub-specific error types
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrInvalidEnvelope   = errors.New("invalid event frame")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrDeliveryFailed    = errors.New("message could not be delivered")
	ErrHistoryFailed     = errors.New("history is unavailable")
)
