package transfer

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/accrt/internal/backend/sim"
	"github.com/samcharles93/accrt/internal/registry"
	"github.com/samcharles93/accrt/internal/stream"
	"github.com/samcharles93/accrt/pkg/device"
)

// spyDriver counts driver copies so tests can assert none were issued.
type spyDriver struct {
	*sim.Driver
	copies atomic.Int64
	pins   atomic.Int64
}

func (d *spyDriver) CopyHtoD(dst device.DevicePtr, src unsafe.Pointer, size int64, s device.Stream) error {
	d.copies.Add(1)
	return d.Driver.CopyHtoD(dst, src, size, s)
}

func (d *spyDriver) CopyDtoH(dst unsafe.Pointer, src device.DevicePtr, size int64, s device.Stream) error {
	d.copies.Add(1)
	return d.Driver.CopyDtoH(dst, src, size, s)
}

func (d *spyDriver) PinHost(p unsafe.Pointer, size int64) error {
	d.pins.Add(1)
	return d.Driver.PinHost(p, size)
}

type fixture struct {
	drv  *spyDriver
	reg  *registry.Registry
	pool *stream.Pool
	eng  *Engine
}

func newFixture(t *testing.T, opts sim.Options) *fixture {
	t.Helper()
	drv := &spyDriver{Driver: sim.New(opts)}
	t.Cleanup(func() { _ = drv.Close() })
	pool, err := stream.New(drv, stream.DefaultSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.DestroyAll() })
	reg := registry.New()
	return &fixture{drv: drv, reg: reg, pool: pool, eng: New(drv, reg, pool)}
}

// mirror allocates device memory for host and registers the pair.
func (f *fixture) mirror(t *testing.T, host []byte) device.DevicePtr {
	t.Helper()
	dev, err := f.drv.Alloc(int64(len(host)))
	require.NoError(t, err)
	_, err = f.reg.Register(unsafe.Pointer(&host[0]), dev, int64(len(host)))
	require.NoError(t, err)
	return dev
}

func TestSynchronousRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t, sim.Options{})

	h := make([]byte, 256)
	for i := range h {
		h[i] = byte(i)
	}
	f.mirror(t, h)
	p := unsafe.Pointer(&h[0])

	require.NoError(t, f.eng.Upload(p, 256, 0, -1))
	clear(h)
	require.NoError(t, f.eng.Download(p, 256, 0, -1))
	for i, b := range h {
		require.Equal(t, byte(i), b, "byte %d", i)
	}
	require.Equal(t, 0, f.pool.Live(), "synchronous copies never touch the pool")
	require.Equal(t, int64(0), f.drv.pins.Load())
}

func TestAsyncSameSlotOrdering(t *testing.T) {
	t.Parallel()
	f := newFixture(t, sim.Options{CopyLatency: 2 * time.Millisecond})

	h := make([]byte, 128)
	for i := range h {
		h[i] = byte(i + 1)
	}
	f.mirror(t, h)
	p := unsafe.Pointer(&h[0])
	want := bytes.Clone(h)

	require.NoError(t, f.eng.Upload(p, 64, 0, 3))
	require.NoError(t, f.eng.Upload(p, 64, 64, 3))

	// Tag 14 aliases slot 3, so this read runs after both uploads.
	out := make([]byte, 128)
	dev, err := f.reg.Translate(p)
	require.NoError(t, err)
	require.NoError(t, f.pool.Submit(14, func(s device.Stream) error {
		return f.drv.CopyDtoH(unsafe.Pointer(&out[0]), dev, 128, s)
	}))

	require.NoError(t, f.eng.Download(p, 0, 0, 3), "zero size is a no-op")
	require.NoError(t, f.pool.Wait(3))
	require.Equal(t, want, out, "tag 14 observed both uploads")
	require.Equal(t, 1, f.pool.Live())
	require.Equal(t, int64(2), f.drv.pins.Load())
}

func TestAsyncDownloadCompletesOnWait(t *testing.T) {
	t.Parallel()
	f := newFixture(t, sim.Options{CopyLatency: time.Millisecond})

	h := bytes.Repeat([]byte{9}, 32)
	f.mirror(t, h)
	p := unsafe.Pointer(&h[0])
	require.NoError(t, f.eng.Upload(p, 32, 0, 0))
	require.NoError(t, f.pool.Wait(0))

	clear(h)
	require.NoError(t, f.eng.Download(p, 16, 16, 5))
	require.NoError(t, f.pool.Wait(5))
	require.Equal(t, make([]byte, 16), h[:16])
	require.Equal(t, bytes.Repeat([]byte{9}, 16), h[16:])
}

func TestPreconditions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, sim.Options{})
	h := make([]byte, 64)
	f.mirror(t, h)
	p := unsafe.Pointer(&h[0])

	err := f.eng.Upload(nil, 8, 0, -1)
	require.ErrorIs(t, err, device.ErrTransferPrecondition)

	for _, tc := range []struct{ size, off int64 }{
		{-1, 0},
		{8, -1},
		{65, 0},
		{8, 60},
	} {
		err := f.eng.Upload(p, tc.size, tc.off, 2)
		require.ErrorIs(t, err, device.ErrTransferPrecondition, "size=%d off=%d", tc.size, tc.off)
	}

	other := make([]byte, 8)
	err = f.eng.Download(unsafe.Pointer(&other[0]), 8, 0, -1)
	require.ErrorIs(t, err, device.ErrNotFound)

	require.Equal(t, int64(0), f.drv.copies.Load(), "no driver copy on rejected transfers")
	require.Equal(t, int64(0), f.drv.pins.Load())
	require.Equal(t, 0, f.pool.Live())
}

func TestUncreatedRegistry(t *testing.T) {
	t.Parallel()
	drv := sim.New(sim.Options{})
	defer drv.Close()
	pool, err := stream.New(drv, stream.DefaultSize)
	require.NoError(t, err)
	eng := New(drv, &registry.Registry{}, pool)

	h := make([]byte, 8)
	err = eng.Upload(unsafe.Pointer(&h[0]), 8, 0, -1)
	require.ErrorIs(t, err, device.ErrUsage)
}

func TestDriverFailureIsWrapped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, sim.Options{})
	h := make([]byte, 16)
	dev := f.mirror(t, h)
	require.NoError(t, f.drv.Free(dev))

	err := f.eng.Upload(unsafe.Pointer(&h[0]), 16, 0, -1)
	require.ErrorIs(t, err, device.ErrDriver)
}
