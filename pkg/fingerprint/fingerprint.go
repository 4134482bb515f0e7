package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"slices"
	"strings"
)

// stableHeaders are sent by browsers on every navigation and change rarely
// between requests from the same device.
var stableHeaders = []string{
	"User-Agent",
	"Accept",
	"Accept-Language",
	"Accept-Encoding",
	"Sec-Ch-Ua",
	"Sec-Ch-Ua-Platform",
	"Sec-Ch-Ua-Mobile",
}

// Generate derives a 32 character device fingerprint from request headers.
// The client address is left out so one device on several networks
// keeps one fingerprint. Returns "" when no stable header is present.
func Generate(r *http.Request) string {
	var parts, present []string
	for _, h := range stableHeaders {
		v := strings.TrimSpace(r.Header.Get(h))
		if v == "" {
			continue
		}
		parts = append(parts, v)
		present = append(present, strings.ToLower(h))
	}
	if len(parts) == 0 {
		return ""
	}

	slices.Sort(present)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|") + "|" + strings.Join(present, ",")))
	return hex.EncodeToString(sum[:16])
}

// Middleware stores the derived fingerprint in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), Generate(r))))
	})
}

type ctxKey struct{}

func WithContext(ctx context.Context, fp string) context.Context {
	return context.WithValue(ctx, ctxKey{}, fp)
}

func FromContext(ctx context.Context) string {
	fp, _ := ctx.Value(ctxKey{}).(string)
	return fp
}
