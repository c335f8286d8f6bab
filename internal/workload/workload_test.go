package workload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/accrt/internal/backend/sim"
	"github.com/samcharles93/accrt/pkg/accrt"
	"github.com/samcharles93/accrt/pkg/device"
)

func newRuntime(t *testing.T, streams int, opts sim.Options) *accrt.Runtime {
	t.Helper()
	rt, err := accrt.New(accrt.Options{Driver: sim.New(opts), Streams: streams})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown() })
	return rt
}

func TestRunVerifiesAndFreesEverything(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, 0, sim.Options{})

	res, err := Run(context.Background(), rt, Config{Buffers: 3, Size: 1024, Tags: 2, Iterations: 4})
	require.NoError(t, err)
	require.Equal(t, 4, res.Iterations)
	require.Equal(t, int64(4*3*1024), res.BytesUp)
	require.Equal(t, res.BytesUp, res.BytesDown)
	require.Equal(t, 12, res.Launches)

	s := rt.Snapshot()
	require.Empty(t, s.Allocations, "regions freed every buffer")
	require.Equal(t, 0, s.RegionDepth)
	require.Equal(t, 0, s.StagedArgs)
}

func TestRunSynchronousWithoutLauncher(t *testing.T) {
	t.Parallel()
	drv := sim.New(sim.Options{})
	defer drv.Close()
	rt, err := accrt.New(accrt.Options{Driver: struct{ device.Driver }{drv}})
	require.NoError(t, err)
	defer rt.Shutdown()

	res, err := Run(context.Background(), rt, Config{Buffers: 2, Size: 256, Iterations: 2})
	require.NoError(t, err)
	require.Equal(t, 2, res.Iterations)
	require.Equal(t, 0, res.Launches)
	require.Equal(t, uint64(0), rt.Snapshot().Streams[0].Creations, "tags=0 stays synchronous")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, 0, sim.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := Run(ctx, rt, Config{Buffers: 1, Size: 64, Tags: 1, Rate: 100})
	require.NoError(t, err)
	require.Greater(t, res.Iterations, 0)
	require.Less(t, res.Iterations, 20, "rate limiter paces iterations")
}

func TestBench(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, 4, sim.Options{})
	results, err := Bench(rt, 4096, 8, 3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "sync", results[0].Mode)
	require.Equal(t, "async", results[1].Mode)
	for _, r := range results {
		require.Equal(t, int64(2*4096*8), r.Bytes)
		require.GreaterOrEqual(t, r.Throughput(), 0.0)
	}
	require.Empty(t, rt.Snapshot().Allocations)

	_, err = Bench(rt, 0, 1, 1)
	require.Error(t, err)
}

func TestSelfTestPassesOnSim(t *testing.T) {
	t.Parallel()
	for _, streams := range []int{0, 4} {
		checks := SelfTest(func() (*accrt.Runtime, error) {
			return accrt.New(accrt.Options{
				Driver:  sim.New(sim.Options{CopyLatency: 100 * time.Microsecond}),
				Streams: streams,
			})
		})
		require.Len(t, checks, len(selfChecks))
		for _, c := range checks {
			require.True(t, c.Passed(), "streams=%d %s: %v", streams, c.Name, c.Err)
		}
	}
}

func TestSelfTestReportsOpenFailure(t *testing.T) {
	t.Parallel()
	checks := SelfTest(func() (*accrt.Runtime, error) {
		return accrt.New(accrt.Options{})
	})
	for _, c := range checks {
		require.ErrorIs(t, c.Err, device.ErrUsage)
	}
}
