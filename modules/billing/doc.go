// Package billing mounts the subscription HTTP endpoints:
//
//	POST /trial-signup             start a card-on-file trial
//	POST /create-checkout-session  hosted checkout for a new subscriber
//	POST /event-delivery           signed processor events
//	POST /cancel                   cancel at period end (bearer)
//	GET  /status                   subscription summary (bearer)
//	POST /billing-portal-session   hosted billing portal (bearer)
//
// Bearer tokens are issued by pkg/jwt. A successful trial signup returns one
// so the client can call the authenticated endpoints right away.
package billing
