package device

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every runtime component. Callers match with
// errors.Is; each failure wraps exactly one of these.
var (
	// ErrUsage marks calls made against undefined runtime state, such as
	// translating before the registry exists or popping an empty region
	// stack.
	ErrUsage = errors.New("usage error")
	// ErrNotFound marks an address absent from the registry where presence
	// was assumed.
	ErrNotFound = errors.New("address not found")
	// ErrTransferPrecondition marks a copy rejected before any driver call.
	ErrTransferPrecondition = errors.New("transfer precondition failed")
	// ErrDriver marks a failure reported by the underlying device primitive.
	ErrDriver = errors.New("driver error")
)

// DriverError wraps err from the named driver primitive with ErrDriver.
func DriverError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDriver) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDriver, err)
}

// Kind returns a short label for the taxonomy class of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUsage):
		return "usage"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransferPrecondition):
		return "transfer_precondition"
	case errors.Is(err, ErrDriver):
		return "driver"
	default:
		return "other"
	}
}
