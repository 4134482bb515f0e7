package stripe

import "errors"

var (
	ErrMissingCredentials = errors.New("stripe: secret key and webhook secret are required")
	ErrMalformedEvent     = errors.New("stripe: malformed event object")
)
