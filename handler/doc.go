// Package handler adapts typed request handlers to net/http.
//
// A HandlerFunc receives a Context and a request value populated by binders,
// and returns a Response. Errors from binding, from Fail or from rendering
// go to a single ErrorHandler, which writes an ErrorBody:
//
//	{"error":"bad_request","message":"Request validation failed","details":{"email":["must be a valid email address"]}}
//
// Usage:
//
//	errs := handler.NewErrorHandler(log, classifyBillingError)
//	r.Post("/trial-signup", handler.Wrap(m.signup,
//		handler.WithBinders[signupRequest](binder.JSON()),
//		handler.WithErrorHandler[signupRequest](errs),
//	))
package handler
