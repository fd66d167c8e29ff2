// Package balancer resolves an application hostname to one healthy backend.
// Discovery goes through a circuit breaker; a stale-snapshot fallback cache
// absorbs registry outages.
package balancer

import "errors"

// Error taxonomy carried across the component boundary. The edge router maps
// these onto HTTP statuses.
var (
	ErrInvalidInput = errors.New("invalid-input")
	ErrNotFound     = errors.New("not-found")
	ErrNoCapacity   = errors.New("no-capacity")
	ErrTimeout      = errors.New("timeout")
	ErrCircuitOpen  = errors.New("circuit-open")
	ErrUnavailable  = errors.New("unavailable")
)

// Kind returns the wire name for a routing error, or "unknown".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid-input"
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrNoCapacity):
		return "no-capacity"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit-open"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	}
	return "unknown"
}

// FromKind maps a wire name back onto the taxonomy. Unknown names return nil.
func FromKind(kind string) error {
	switch kind {
	case "invalid-input":
		return ErrInvalidInput
	case "not-found":
		return ErrNotFound
	case "no-capacity":
		return ErrNoCapacity
	case "timeout":
		return ErrTimeout
	case "circuit-open":
		return ErrCircuitOpen
	case "unavailable":
		return ErrUnavailable
	}
	return nil
}
