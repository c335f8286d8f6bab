//go:build cuda

package cuda

import (
	"errors"
	"fmt"
)

var errClosed = errors.New("cuda device is closed")

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("cuda %s: %w", op, err)
}
