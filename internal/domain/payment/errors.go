package payment

import "errors"

var (
	// ErrMissingMetadata is returned when a completed session lacks user_id or credits
	ErrMissingMetadata = errors.New("checkout session metadata incomplete")

	ErrUnknownPack = errors.New("credit pack not found or inactive")

	ErrInvalidCatalog = errors.New("invalid pack catalog")

	// ErrCheckoutUnavailable is returned when the gateway could not create a session
	ErrCheckoutUnavailable = errors.New("checkout unavailable")
)
