package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/hearth/pkg/binder"
	"github.com/dmitrymomot/hearth/pkg/logger"
	"github.com/dmitrymomot/hearth/pkg/requestid"
	"github.com/dmitrymomot/hearth/pkg/validator"
)

// Classifier maps a domain error to an HTTPError. It reports false when it
// does not recognize err.
type Classifier func(err error) (HTTPError, bool)

// NewErrorHandler returns an ErrorHandler that renders ErrorBody JSON.
// Classifiers run first, then HTTPError, binder and validator errors are
// recognized. Anything else is a 500 whose text is logged but never sent.
func NewErrorHandler(log *slog.Logger, classifiers ...Classifier) ErrorHandler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return func(ctx Context, err error) {
		httpErr := classify(err, classifiers)

		body := ErrorBody{Code: httpErr.Key, Message: httpErr.Message, Reason: httpErr.Reason}
		if body.Message == "" {
			body.Message = http.StatusText(httpErr.Code)
		}
		if verrs := validator.ExtractValidationErrors(err); verrs != nil {
			body.Details = verrs.Map()
		}

		r := ctx.Request()
		level := slog.LevelWarn
		if httpErr.Code >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.LogAttrs(r.Context(), level, "request failed",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", httpErr.Code),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("http"),
		)

		if rerr := JSON(body, WithJSONStatus(httpErr.Code)).Render(ctx.ResponseWriter(), r); rerr != nil {
			log.ErrorContext(r.Context(), "failed to write error response", logger.Error(rerr))
		}
	}
}

func classify(err error, classifiers []Classifier) HTTPError {
	for _, c := range classifiers {
		if httpErr, ok := c(err); ok {
			return httpErr
		}
	}

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	switch {
	case validator.IsValidationError(err):
		return ErrBadRequest.WithMessage("Request validation failed")
	case errors.Is(err, binder.ErrBodyTooLarge):
		return ErrRequestEntityTooLarge
	case errors.Is(err, binder.ErrMissingContentType), errors.Is(err, binder.ErrUnsupportedMediaType):
		return ErrUnsupportedMediaType
	case errors.Is(err, binder.ErrFailedToParseJSON):
		return ErrBadRequest.WithMessage("Request body is not valid JSON")
	}
	return ErrInternalServerError
}
