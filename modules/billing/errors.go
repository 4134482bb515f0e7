package billing

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/hearth/handler"
	"github.com/dmitrymomot/hearth/pkg/jwt"
	core "github.com/dmitrymomot/hearth/svc/billing"
)

var (
	errTrialUnavailable = handler.HTTPError{Code: http.StatusForbidden, Key: "trial_unavailable", Message: "A free trial is not available for this signup"}
	errProcessor        = handler.HTTPError{Code: http.StatusInternalServerError, Key: "processor_error", Message: "We could not set up billing right now. You have not been charged, please try again later"}
	errInvalidSignature = handler.HTTPError{Code: http.StatusBadRequest, Key: "invalid_signature", Message: "Event signature could not be verified"}
	errUnknownTier      = handler.ErrBadRequest.WithMessage("Unknown tier or billing interval")
	errNoProcessorRef   = handler.ErrConflict.WithMessage("Subscription is not linked to a billing account yet")
)

// classify maps billing errors to HTTP responses. Internal causes never
// reach the caller.
func classify(err error) (handler.HTTPError, bool) {
	var blocked *core.BlockedError
	switch {
	case errors.As(err, &blocked):
		return errTrialUnavailable.WithReason(blocked.Reason), true
	case errors.Is(err, core.ErrAbuseBlocked), errors.Is(err, core.ErrTrialAlreadyUsed):
		return errTrialUnavailable, true
	case errors.Is(err, core.ErrValidation):
		return handler.ErrBadRequest.WithMessage("Request validation failed"), true
	case errors.Is(err, core.ErrUnknownTier):
		return errUnknownTier, true
	case errors.Is(err, core.ErrSignatureInvalid):
		return errInvalidSignature, true
	case errors.Is(err, core.ErrSubscriberNotFound):
		return handler.ErrNotFound.WithMessage("Subscription not found"), true
	case errors.Is(err, core.ErrNoProcessorRef):
		return errNoProcessorRef, true
	case errors.Is(err, core.ErrProcessor):
		return errProcessor, true
	case errors.Is(err, core.ErrReconciliationGap):
		return handler.ErrInternalServerError, true
	case errors.Is(err, jwt.ErrMissingToken), errors.Is(err, jwt.ErrInvalidToken),
		errors.Is(err, jwt.ErrExpiredToken), errors.Is(err, jwt.ErrMissingSubject):
		return handler.ErrUnauthorized.WithMessage("Sign in again to continue"), true
	}
	return handler.HTTPError{}, false
}
