// Package clientip resolves the client address of an HTTP request.
//
// Forwarding headers are only honored when listed in Config.TrustedHeaders,
// since a client can set any header it likes when no proxy strips them.
// Behind Cloudflare that is typically "CF-Connecting-IP"; behind a plain
// load balancer "X-Forwarded-For".
package clientip
