package webhook

import "errors"

var (
	ErrInvalidConfiguration = errors.New("webhook: invalid configuration")
	ErrInvalidPayload       = errors.New("webhook: invalid payload")
	ErrInvalidURL           = errors.New("webhook: invalid URL")
	ErrInvalidSignature     = errors.New("webhook: invalid signature")
	ErrDeliveryFailed       = errors.New("webhook: delivery failed")
	ErrPermanentFailure     = errors.New("webhook: permanent failure")
	ErrCircuitOpen          = errors.New("webhook: circuit breaker is open")
)
