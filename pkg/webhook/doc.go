// Package webhook signs, verifies and delivers JSON webhooks.
//
// Signatures use the header format "t=<unix>,v1=<hex hmac-sha256>" over
// "<t>.<body>". Sender retries transient failures with exponential backoff
// and can share a CircuitBreaker per endpoint.
package webhook
