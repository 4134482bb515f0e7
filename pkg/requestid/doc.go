// Package requestid tags every HTTP request with a correlation id.
//
// Register LogAttr with logger.WithContextExtractors so records logged with
// a request context carry the id:
//
//	log := logger.New(logger.WithContextExtractors(requestid.LogAttr))
//	r.Use(requestid.Middleware)
package requestid
