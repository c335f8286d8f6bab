// Package workload drives a runtime with a deterministic synthetic offload
// program: nested data regions, mirrored buffers, tagged transfers and,
// when the backend can launch kernels, an in-place scale on the device.
package workload

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/samcharles93/accrt/internal/logger"
	"github.com/samcharles93/accrt/pkg/accrt"
)

type Config struct {
	// Buffers is the number of mirrored buffers per iteration.
	Buffers int
	// Size is the byte size of each buffer, rounded down to a multiple of 4.
	Size int64
	// Tags is the number of distinct positive async tags to spread copies
	// over. Zero copies synchronously.
	Tags int
	// Iterations bounds the run. Zero runs until ctx is done.
	Iterations int
	// Rate caps iterations per second. Zero is unpaced.
	Rate   float64
	Logger logger.Logger
}

func (c Config) withDefaults() Config {
	if c.Buffers <= 0 {
		c.Buffers = 4
	}
	if c.Size < 4 {
		c.Size = 4096
	}
	c.Size &^= 3
	if c.Tags < 0 {
		c.Tags = 0
	}
	return c
}

type Result struct {
	Iterations int           `json:"iterations"`
	BytesUp    int64         `json:"bytes_up"`
	BytesDown  int64         `json:"bytes_down"`
	Launches   int           `json:"launches"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Run executes the program until cfg.Iterations complete or ctx is done.
// Cancellation between iterations is not an error; a verification mismatch
// or runtime failure is.
func Run(ctx context.Context, rt *accrt.Runtime, cfg Config) (Result, error) {
	cfg = cfg.withDefaults()
	log := logger.Component(cfg.Logger, "workload")

	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}

	// Host buffers are reused so each range is page-locked only once.
	hosts := make([][]float32, cfg.Buffers)
	for b := range hosts {
		hosts[b] = make([]float32, cfg.Size/4)
	}

	var res Result
	start := time.Now()

	for i := 0; cfg.Iterations == 0 || i < cfg.Iterations; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		} else if ctx.Err() != nil {
			break
		}
		if err := iterate(rt, cfg, hosts, i, &res); err != nil {
			res.Elapsed = time.Since(start)
			return res, fmt.Errorf("iteration %d: %w", i, err)
		}
		res.Iterations++
		log.Debug("iteration done", "iteration", i)
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func tagFor(cfg Config, b int) int {
	if cfg.Tags == 0 {
		return -1
	}
	return 1 + b%cfg.Tags
}

func fill(buf []float32, seed int) {
	for j := range buf {
		buf[j] = float32((seed*31+j)%1024) * 0.5
	}
}

func iterate(rt *accrt.Runtime, cfg Config, hosts [][]float32, i int, res *Result) (err error) {
	n := int(cfg.Size / 4)
	launch := rt.CanLaunch()

	rt.PushRegion()
	defer func() {
		var errs *multierror.Error
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		if derr := rt.DrainRegion(); derr != nil {
			errs = multierror.Append(errs, derr)
		}
		if perr := rt.PopRegion(); perr != nil {
			errs = multierror.Append(errs, perr)
		}
		err = errs.ErrorOrNil()
	}()

	// An inner region holds a scratch buffer that must be gone before the
	// outer region's buffers are read back.
	rt.PushRegion()
	scratch, err := rt.Allocate(cfg.Size)
	if err != nil {
		return err
	}
	if err := rt.RecordPending(scratch); err != nil {
		return err
	}
	if err := rt.DrainRegion(); err != nil {
		return err
	}
	if err := rt.PopRegion(); err != nil {
		return err
	}
	if rt.DevicePresent(scratch) {
		return fmt.Errorf("scratch allocation %s survived its region", scratch)
	}

	for b := range hosts {
		fill(hosts[b], i+b)
		h := unsafe.Pointer(&hosts[b][0])
		dev, err := rt.PresentOrCreate(h, cfg.Size)
		if err != nil {
			return err
		}
		tag := tagFor(cfg, b)
		if err := rt.Upload(h, cfg.Size, 0, tag); err != nil {
			return err
		}
		res.BytesUp += cfg.Size
		if launch {
			rt.BeginArgs()
			rt.PushPointerArg(dev)
			rt.PushInt64Arg(int64(n))
			rt.PushFloat32Arg(2)
			if err := rt.Launch("scale_f32", tag); err != nil {
				return err
			}
			res.Launches++
		}
		if err := rt.Download(h, cfg.Size, 0, tag); err != nil {
			return err
		}
		res.BytesDown += cfg.Size
	}
	if err := rt.WaitAll(); err != nil {
		return err
	}

	want := make([]float32, n)
	for b, host := range hosts {
		fill(want, i+b)
		for j := range want {
			if launch {
				want[j] *= 2
			}
			if host[j] != want[j] {
				return fmt.Errorf("buffer %d element %d: got %v, want %v", b, j, host[j], want[j])
			}
		}
	}
	return nil
}
