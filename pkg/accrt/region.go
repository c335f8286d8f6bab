package accrt

import "github.com/samcharles93/accrt/pkg/device"

// PushRegion opens a data region.
func (r *Runtime) PushRegion() {
	r.regions.Push()
}

// PopRegion closes the innermost region without freeing what it holds;
// call DrainRegion first.
func (r *Runtime) PopRegion() error {
	return r.fail(r.regions.Pop())
}

// RecordPending ties dev to the innermost region so DrainRegion frees it.
func (r *Runtime) RecordPending(dev device.DevicePtr) error {
	return r.fail(r.regions.Record(dev))
}

// DrainRegion frees every allocation recorded in the innermost region,
// newest first. It frees as much as it can and reports every failure.
func (r *Runtime) DrainRegion() error {
	return r.fail(r.regions.Drain(r.deallocate))
}

// RegionDepth returns the number of open regions.
func (r *Runtime) RegionDepth() int {
	return r.regions.Depth()
}

// PendingInRegion returns the allocations recorded in the innermost region.
func (r *Runtime) PendingInRegion() []device.DevicePtr {
	return r.regions.Pending()
}
