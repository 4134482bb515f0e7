// Package binder decodes HTTP request bodies into typed request structs for
// the handler package.
//
// Only JSON is supported. Bodies are size-limited, decoded strictly, and
// string fields are trimmed before the handler sees them.
package binder
