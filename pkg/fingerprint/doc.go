// Package fingerprint derives a coarse device identifier from browser
// headers. It is the fallback for clients that do not submit their own
// device fingerprint and is only as strong as the headers it hashes.
package fingerprint
