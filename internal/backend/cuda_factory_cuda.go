//go:build cuda

package backend

import (
	"github.com/samcharles93/accrt/internal/backend/cuda"
	"github.com/samcharles93/accrt/internal/logger"
	"github.com/samcharles93/accrt/pkg/device"
)

func NewCUDA(log logger.Logger) (device.Driver, error) {
	return cuda.New(log)
}
