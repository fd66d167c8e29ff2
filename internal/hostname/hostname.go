// Package hostname normalizes user-facing application hostnames. Every
// component that keys state by app hostname goes through Normalize so the
// edge cache, load balancer, and registry agree on the identifier.
package hostname

import (
	"errors"
	"strings"
)

// ErrEmpty is returned when normalization leaves nothing usable.
var ErrEmpty = errors.New("empty app hostname")

// Normalize lowercases the hostname and strips protocol, port, and trailing
// slashes. It is idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) (string, error) {
	h := strings.TrimSpace(strings.ToLower(raw))

	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	// Anything after the first slash is a path, not part of the hostname.
	if i := strings.IndexByte(h, '/'); i >= 0 {
		h = h[:i]
	}
	// The first colon starts the port; hostnames never contain one. Cutting
	// there keeps Normalize idempotent even for malformed multi-colon input.
	if i := strings.IndexByte(h, ':'); i >= 0 {
		h = h[:i]
	}
	h = strings.TrimSuffix(h, ".")

	if h == "" {
		return "", ErrEmpty
	}
	return h, nil
}
