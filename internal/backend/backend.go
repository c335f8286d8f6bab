// Package backend selects and opens the device driver the runtime runs on.
package backend

import (
	"fmt"
	"strings"

	"github.com/samcharles93/accrt/internal/backend/sim"
	"github.com/samcharles93/accrt/internal/logger"
	"github.com/samcharles93/accrt/pkg/device"
)

const (
	Sim  = sim.Name
	CUDA = "cuda"
	Auto = "auto"
)

// Options select a backend. Sim configures the simulated device and is
// ignored by other backends.
type Options struct {
	Name   string
	Logger logger.Logger
	Sim    sim.Options
}

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Sim, CUDA, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, sim, or cuda)", backend)
	}
}

// Open returns a ready driver. Auto prefers CUDA when the build and the
// machine support it and falls back to the simulated device otherwise.
func Open(opts Options) (device.Driver, error) {
	name, err := Normalize(opts.Name)
	if err != nil {
		return nil, err
	}
	log := logger.Component(opts.Logger, "backend")

	switch name {
	case Sim:
		return newSim(opts), nil
	case CUDA:
		drv, err := NewCUDA(opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("open cuda backend: %w", err)
		}
		return drv, nil
	default:
		if Has(CUDA) {
			drv, err := NewCUDA(opts.Logger)
			if err == nil {
				log.Debug("selected backend", "backend", CUDA)
				return drv, nil
			}
			log.Warn("cuda unavailable, using simulated device", "error", err)
		}
		log.Debug("selected backend", "backend", Sim)
		return newSim(opts), nil
	}
}

func newSim(opts Options) device.Driver {
	so := opts.Sim
	if so.Logger == nil {
		so.Logger = opts.Logger
	}
	return sim.New(so)
}
