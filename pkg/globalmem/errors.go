package globalmem

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAllocation is returned by Open when a session cannot be allocated.
	ErrAllocation = errors.New("session allocation failed")
	// ErrInvalidOffset is returned when a transfer starts beyond the device capacity.
	ErrInvalidOffset = errors.New("offset beyond device capacity")
	// ErrInvalidState is returned for any operation on a closed session.
	ErrInvalidState = errors.New("session is closed")
	// ErrIOTransfer is returned when copying to or from the caller's buffer fails.
	ErrIOTransfer = errors.New("io transfer failed")
	// ErrReleased is returned when the shared buffer was already released.
	ErrReleased = errors.New("shared buffer released")
)

// transferError keeps both ErrIOTransfer and the caller's cause reachable through errors.Is.
func transferError(op string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrIOTransfer, op, cause)
}
