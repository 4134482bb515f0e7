// Package logger builds *slog.Logger values with functional options, helper
// attribute constructors and injection of values stored in context.Context.
//
// New creates a text or JSON handler, applies static attributes and wraps the
// handler with LogHandlerDecorator, which runs every registered
// ContextExtractor before a record is written. WithEnvironment applies the
// defaults of a deployment environment (debug/text for development,
// info/json for staging and production).
//
// # Usage
//
//	log := logger.New(
//	    logger.WithEnvironment(os.Getenv("APP_ENV"), "hearth"),
//	    logger.WithContextValue("request_id", middleware.RequestIDKey),
//	)
//	log.ErrorContext(ctx, "event handler failed", logger.Alert(), logger.Error(err))
//
// Attribute helpers (Error, Errors, SubscriberID, EventType, Component, Alert)
// keep key names consistent across the codebase.
package logger
