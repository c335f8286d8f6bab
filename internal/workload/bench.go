package workload

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/samcharles93/accrt/pkg/accrt"
)

// BenchResult is the throughput of one transfer mode.
type BenchResult struct {
	Mode    string        `json:"mode"`
	Bytes   int64         `json:"bytes"`
	Elapsed time.Duration `json:"elapsed"`
}

// Throughput returns bytes per second.
func (b BenchResult) Throughput() float64 {
	if b.Elapsed <= 0 {
		return 0
	}
	return float64(b.Bytes) / b.Elapsed.Seconds()
}

// Bench uploads and downloads one size-byte buffer iters times, first
// synchronously and then spread over tags asynchronous streams.
func Bench(rt *accrt.Runtime, size int64, iters, tags int) ([]BenchResult, error) {
	if size <= 0 || iters <= 0 {
		return nil, fmt.Errorf("bench: size and iters must be > 0")
	}
	if tags < 1 {
		tags = 1
	}

	bufs := make([][]byte, tags)
	for i := range bufs {
		bufs[i] = make([]byte, size)
		h := unsafe.Pointer(&bufs[i][0])
		dev, err := rt.AllocateMirrored(h, size)
		if err != nil {
			return nil, err
		}
		defer rt.Deallocate(dev)
	}

	run := func(mode string, tagOf func(i int) int) (BenchResult, error) {
		start := time.Now()
		for i := range iters {
			tag := tagOf(i)
			h := unsafe.Pointer(&bufs[i%tags][0])
			if err := rt.Upload(h, size, 0, tag); err != nil {
				return BenchResult{}, err
			}
			if err := rt.Download(h, size, 0, tag); err != nil {
				return BenchResult{}, err
			}
		}
		if err := rt.WaitAll(); err != nil {
			return BenchResult{}, err
		}
		return BenchResult{Mode: mode, Bytes: 2 * size * int64(iters), Elapsed: time.Since(start)}, nil
	}

	syncRes, err := run("sync", func(int) int { return -1 })
	if err != nil {
		return nil, err
	}
	asyncRes, err := run("async", func(i int) int { return 1 + i%tags })
	if err != nil {
		return nil, err
	}
	return []BenchResult{syncRes, asyncRes}, nil
}
