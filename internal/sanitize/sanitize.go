// Package sanitize implements the admission sanitizer: path
// normalization, header canonicalization, and body Unicode
// normalization, grounded on the WAF/validation middlewares' input-
// normalization idiom (strip control bytes, normalize percent-
// encoding) adapted to the sanitizer contract's idempotence
// requirement — sanitize(sanitize(x)) == sanitize(x).
package sanitize

import (
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Path strips control and shell metacharacters, collapses repeated
// "/", removes ".." segments, and percent-decodes exactly once, then
// re-normalizes so a second pass is a no-op.
func Path(path string) string {
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}

	var b strings.Builder
	b.Grow(len(path))
	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			continue
		}
		if strings.ContainsRune(";&|`$<>\\", r) {
			continue
		}
		b.WriteRune(r)
	}
	path = b.String()

	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	segments := strings.Split(path, "/")
	clean := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(clean) > 0 {
				clean = clean[:len(clean)-1]
			}
		default:
			clean = append(clean, seg)
		}
	}

	result := "/" + strings.Join(clean, "/")
	return result
}

// HeaderName lowercases a header name so lookups are case-insensitive
// internally, per the wire-protocol contract (headers are
// case-insensitive on the wire, lowercased internally).
func HeaderName(name string) string {
	return strings.ToLower(name)
}

// HeaderValue strips CR/LF from a header value to prevent header/
// request smuggling via injected line breaks.
func HeaderValue(value string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(value)
}

// Headers returns a new http.Header with every name lowercased and
// every value stripped of embedded newlines.
func Headers(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		lname := HeaderName(name)
		for _, v := range values {
			out.Add(lname, HeaderValue(v))
		}
	}
	return out
}

// Body normalizes a string body to Unicode Normalization Form C so
// visually identical inputs compare and match consistently downstream
// (WAF pattern matching, cache fingerprinting).
func Body(body string) string {
	return norm.NFC.String(body)
}
