package workload

import (
	"bytes"
	"errors"
	"fmt"
	"unsafe"

	"github.com/samcharles93/accrt/pkg/accrt"
	"github.com/samcharles93/accrt/pkg/device"
)

// Check is one named self-test outcome.
type Check struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

func (c Check) Passed() bool {
	return c.Err == nil
}

type selfCheck struct {
	name string
	run  func(rt *accrt.Runtime) error
}

var selfChecks = []selfCheck{
	{"translate after allocate", checkTranslate},
	{"removal is idempotent", checkIdempotentRemoval},
	{"region drain frees its allocations", checkRegionDrain},
	{"nested drain frees only the inner region", checkNestedRegions},
	{"fresh pool and barrier report idle", checkIdle},
	{"synchronous 256-byte round trip", checkSyncRoundTrip},
	{"aliased tag ordered after same-slot uploads", checkAliasedOrdering},
}

// SelfTest runs every check against a fresh runtime from open, shutting each
// one down afterwards.
func SelfTest(open func() (*accrt.Runtime, error)) []Check {
	out := make([]Check, 0, len(selfChecks))
	for _, sc := range selfChecks {
		c := Check{Name: sc.name}
		rt, err := open()
		if err != nil {
			c.Err = fmt.Errorf("open runtime: %w", err)
			out = append(out, c)
			continue
		}
		c.Err = sc.run(rt)
		if serr := rt.Shutdown(); serr != nil && c.Err == nil {
			c.Err = fmt.Errorf("shutdown: %w", serr)
		}
		out = append(out, c)
	}
	return out
}

func checkTranslate(rt *accrt.Runtime) error {
	h := make([]byte, 64)
	p := unsafe.Pointer(&h[0])
	d, err := rt.AllocateMirrored(p, 64)
	if err != nil {
		return err
	}
	got, err := rt.Translate(p)
	if err != nil {
		return err
	}
	if got != d {
		return fmt.Errorf("translate returned %s, allocated %s", got, d)
	}
	return rt.Deallocate(d)
}

func checkIdempotentRemoval(rt *accrt.Runtime) error {
	d, err := rt.Allocate(32)
	if err != nil {
		return err
	}
	if err := rt.Deallocate(d); err != nil {
		return err
	}
	if err := rt.Deallocate(d); !errors.Is(err, device.ErrNotFound) {
		return fmt.Errorf("second deallocate: want not found, got %v", err)
	}
	return nil
}

func checkRegionDrain(rt *accrt.Runtime) error {
	rt.PushRegion()
	d, err := rt.Allocate(32)
	if err != nil {
		return err
	}
	if err := rt.RecordPending(d); err != nil {
		return err
	}
	if err := rt.DrainRegion(); err != nil {
		return err
	}
	if err := rt.PopRegion(); err != nil {
		return err
	}
	if rt.DevicePresent(d) {
		return fmt.Errorf("%s still registered after drain", d)
	}
	return nil
}

func checkNestedRegions(rt *accrt.Runtime) error {
	rt.PushRegion()
	d1, err := rt.Allocate(16)
	if err != nil {
		return err
	}
	if err := rt.RecordPending(d1); err != nil {
		return err
	}
	rt.PushRegion()
	d2, err := rt.Allocate(16)
	if err != nil {
		return err
	}
	if err := rt.RecordPending(d2); err != nil {
		return err
	}
	if err := rt.DrainRegion(); err != nil {
		return err
	}
	if err := rt.PopRegion(); err != nil {
		return err
	}
	if rt.DevicePresent(d2) {
		return fmt.Errorf("inner allocation %s survived", d2)
	}
	if !rt.DevicePresent(d1) {
		return fmt.Errorf("outer allocation %s freed early", d1)
	}
	if err := rt.DrainRegion(); err != nil {
		return err
	}
	return rt.PopRegion()
}

func checkIdle(rt *accrt.Runtime) error {
	idle, err := rt.TestAll()
	if err != nil {
		return err
	}
	if !idle {
		return fmt.Errorf("fresh pool reports pending work")
	}
	h := make([]byte, 4096)
	p := unsafe.Pointer(&h[0])
	if _, err := rt.AllocateMirrored(p, 4096); err != nil {
		return err
	}
	for tag := range 5 {
		if err := rt.Upload(p, 4096, 0, tag); err != nil {
			return err
		}
	}
	if err := rt.WaitAll(); err != nil {
		return err
	}
	idle, err = rt.TestAll()
	if err != nil {
		return err
	}
	if !idle {
		return fmt.Errorf("pending work after wait all")
	}
	return nil
}

func checkSyncRoundTrip(rt *accrt.Runtime) error {
	h := make([]byte, 256)
	for i := range h {
		h[i] = byte(i)
	}
	want := bytes.Clone(h)
	p := unsafe.Pointer(&h[0])
	if _, err := rt.AllocateMirrored(p, 256); err != nil {
		return err
	}
	if err := rt.Upload(p, 256, 0, -1); err != nil {
		return err
	}
	clear(h)
	if err := rt.Download(p, 256, 0, -1); err != nil {
		return err
	}
	if !bytes.Equal(h, want) {
		return fmt.Errorf("round trip mismatch")
	}
	return nil
}

// checkAliasedOrdering zeroes the device buffer, fills the host buffer,
// queues both halves on tag 3 and reads the whole buffer back on a tag that
// hashes to the same slot (14 with the default pool). If the read overtook
// either upload the host would see zeros.
func checkAliasedOrdering(rt *accrt.Runtime) error {
	h := make([]byte, 128)
	p := unsafe.Pointer(&h[0])
	if _, err := rt.AllocateMirrored(p, 128); err != nil {
		return err
	}
	if err := rt.Upload(p, 128, 0, -1); err != nil {
		return err
	}
	for i := range h {
		h[i] = byte(i + 1)
	}
	want := bytes.Clone(h)

	if err := rt.Upload(p, 64, 0, 3); err != nil {
		return err
	}
	if err := rt.Upload(p, 64, 64, 3); err != nil {
		return err
	}
	alias := 3 + rt.Streams() - 1
	if err := rt.Download(p, 128, 0, alias); err != nil {
		return err
	}
	if err := rt.Wait(3); err != nil {
		return err
	}
	if !bytes.Equal(h, want) {
		return fmt.Errorf("tag %d read overtook tag 3 uploads", alias)
	}
	return nil
}
