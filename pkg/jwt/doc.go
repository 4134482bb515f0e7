// Package jwt issues and verifies short-lived subscriber tokens.
//
// Tokens are HS256 signed with registered claims only: the subject is the
// subscriber id. Middleware turns a valid bearer token into a Credential
// on the request context; handlers read it with CredentialFromContext.
// The Service holds no per-token state.
package jwt
