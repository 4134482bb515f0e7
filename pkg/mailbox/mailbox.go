package mailbox

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// dotInsensitive lists providers that ignore dots in the local part.
// Values are the domain the mailbox is canonicalized to.
var dotInsensitive = map[string]string{
	"gmail.com":      "gmail.com",
	"googlemail.com": "gmail.com",
}

// aliasTags are the sub-address tags probed by Variations.
var aliasTags = []string{"trial", "promo", "free", "test", "signup"}

var folder = cases.Fold()

// Canonicalize returns the normalized identity of an email address.
// Inputs without exactly one "@" are returned folded but otherwise untouched.
func Canonicalize(email string) string {
	email = fold(email)

	local, domain, ok := split(email)
	if !ok {
		return email
	}

	if i := strings.IndexByte(local, '+'); i >= 0 {
		local = local[:i]
	}

	if canonical, ok := dotInsensitive[domain]; ok {
		local = strings.ReplaceAll(local, ".", "")
		domain = canonical
	}

	return local + "@" + domain
}

// Variations returns the canonical form, the literal input and, for
// dot-insensitive providers only, a fixed set of "+tag" aliases of the
// canonical mailbox. The result never contains duplicates.
func Variations(email string) []string {
	literal := fold(email)
	canonical := Canonicalize(email)

	out := []string{canonical}
	if literal != canonical {
		out = append(out, literal)
	}

	local, domain, ok := split(canonical)
	if !ok || !IsDotInsensitive(domain) {
		return out
	}

	for _, tag := range aliasTags {
		alias := local + "+" + tag + "@" + domain
		if !slices.Contains(out, alias) {
			out = append(out, alias)
		}
	}
	return out
}

// IsDotInsensitive reports whether the provider ignores dots in local parts.
func IsDotInsensitive(domain string) bool {
	_, ok := dotInsensitive[fold(domain)]
	return ok
}

// Domain returns the folded domain part of the address, or "" if there is none.
func Domain(email string) string {
	_, domain, _ := split(fold(email))
	return domain
}

func fold(s string) string {
	s = norm.NFKC.String(strings.TrimSpace(s))
	return strings.ToLower(folder.String(s))
}

func split(email string) (local, domain string, ok bool) {
	local, domain, ok = strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "", "", false
	}
	return local, domain, true
}
