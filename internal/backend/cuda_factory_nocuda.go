//go:build !cuda

package backend

import (
	"fmt"

	"github.com/samcharles93/accrt/internal/logger"
	"github.com/samcharles93/accrt/pkg/device"
)

func NewCUDA(logger.Logger) (device.Driver, error) {
	return nil, fmt.Errorf("cuda backend is not available in this build")
}
