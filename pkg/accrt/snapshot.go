package accrt

import (
	"fmt"

	"github.com/samcharles93/accrt/internal/stream"
	"github.com/samcharles93/accrt/pkg/device"
)

// Allocation describes one live device allocation.
type Allocation struct {
	Seq    uint64 `json:"seq"`
	Host   string `json:"host,omitempty"`
	Device string `json:"device"`
	Size   int64  `json:"size"`
}

// Snapshot is a point-in-time view of a runtime for diagnostics.
type Snapshot struct {
	ID          string             `json:"id"`
	Backend     string             `json:"backend"`
	Ready       bool               `json:"ready"`
	Device      *device.Info       `json:"device,omitempty"`
	Allocations []Allocation       `json:"allocations"`
	LiveBytes   int64              `json:"live_bytes"`
	Streams     []stream.SlotState `json:"streams"`
	RegionDepth int                `json:"region_depth"`
	Pending     []string           `json:"pending"`
	StagedArgs  int                `json:"staged_args"`
}

func (r *Runtime) Snapshot() Snapshot {
	s := Snapshot{
		ID:          r.id,
		Backend:     r.drv.Name(),
		Ready:       r.Ready(),
		LiveBytes:   r.reg.Bytes(),
		Streams:     r.pool.Slots(),
		RegionDepth: r.regions.Depth(),
		StagedArgs:  r.StagedArgs(),
	}
	if d, ok := r.drv.(device.Describer); ok {
		info := d.Describe()
		s.Device = &info
	}

	recs := r.reg.Records()
	s.Allocations = make([]Allocation, 0, len(recs))
	for _, rec := range recs {
		a := Allocation{Seq: rec.Seq, Device: rec.Device.String(), Size: rec.Size}
		if rec.Mirrored() {
			a.Host = fmt.Sprintf("%p", rec.Host)
		}
		s.Allocations = append(s.Allocations, a)
	}

	pending := r.regions.Pending()
	s.Pending = make([]string, 0, len(pending))
	for _, p := range pending {
		s.Pending = append(s.Pending, p.String())
	}
	return s
}
