// Package apperr holds the error taxonomy shared by engines and the dispatcher.
// Engines wrap these sentinels with context; callers classify with errors.Is.
package apperr

import "errors"

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidState       = errors.New("invalid state")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
)

// Kind returns the taxonomy sentinel err belongs to, or nil when err is not
// one of ours.
func Kind(err error) error {
	for _, k := range []error{
		ErrUnauthorized,
		ErrInvalidState,
		ErrNotFound,
		ErrInvalidInput,
		ErrStoreUnavailable,
		ErrGatewayUnavailable,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
