// Package notify delivers subscriber notices by email and, optionally, as
// signed webhooks.
package notify
