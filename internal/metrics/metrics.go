// Package metrics exposes runtime counters through a per-runtime Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/accrt/pkg/device"
)

const namespace = "accrt"

// Transfer modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

type Metrics struct {
	reg *prometheus.Registry

	allocations prometheus.Counter
	frees       prometheus.Counter
	liveAllocs  prometheus.Gauge
	liveBytes   prometheus.Gauge
	transferred *prometheus.CounterVec
	transfers   *prometheus.CounterVec
	slots       prometheus.Gauge
	launches    *prometheus.CounterVec
	errors      *prometheus.CounterVec
}

// New returns metrics registered on a fresh registry. Every series carries
// runtime=runtimeID.
func New(runtimeID string) *Metrics {
	labels := prometheus.Labels{"runtime": runtimeID}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		allocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "allocations_total",
			Help:        "Device allocations made.",
			ConstLabels: labels,
		}),
		frees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "frees_total",
			Help:        "Device allocations released.",
			ConstLabels: labels,
		}),
		liveAllocs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "live_allocations",
			Help:        "Device allocations currently registered.",
			ConstLabels: labels,
		}),
		liveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "live_device_bytes",
			Help:        "Bytes of device memory currently registered.",
			ConstLabels: labels,
		}),
		transferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "transferred_bytes_total",
			Help:        "Bytes copied between host and device.",
			ConstLabels: labels,
		}, []string{"direction", "mode"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "transfers_total",
			Help:        "Host/device copies issued.",
			ConstLabels: labels,
		}, []string{"direction", "mode"}),
		slots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "stream_slots_created",
			Help:        "Stream pool slots with a live stream.",
			ConstLabels: labels,
		}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "kernel_launches_total",
			Help:        "Kernel launches handed to the driver.",
			ConstLabels: labels,
		}, []string{"kernel"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "errors_total",
			Help:        "Unrecoverable runtime errors by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
	}
	m.reg.MustRegister(
		m.allocations,
		m.frees,
		m.liveAllocs,
		m.liveBytes,
		m.transferred,
		m.transfers,
		m.slots,
		m.launches,
		m.errors,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Allocated(size int64) {
	if m == nil {
		return
	}
	m.allocations.Inc()
	m.liveAllocs.Inc()
	m.liveBytes.Add(float64(size))
}

func (m *Metrics) Freed(size int64) {
	if m == nil {
		return
	}
	m.frees.Inc()
	m.liveAllocs.Dec()
	m.liveBytes.Sub(float64(size))
}

// Transferred counts one copy of n bytes.
func (m *Metrics) Transferred(kind device.CopyKind, async bool, n int64) {
	if m == nil {
		return
	}
	mode := ModeSync
	if async {
		mode = ModeAsync
	}
	m.transfers.WithLabelValues(kind.String(), mode).Inc()
	m.transferred.WithLabelValues(kind.String(), mode).Add(float64(n))
}

func (m *Metrics) SlotCreated() {
	if m == nil {
		return
	}
	m.slots.Inc()
}

func (m *Metrics) SlotsReset() {
	if m == nil {
		return
	}
	m.slots.Set(0)
}

func (m *Metrics) Launched(kernel string) {
	if m == nil {
		return
	}
	m.launches.WithLabelValues(kernel).Inc()
}

// Failed counts err under its taxonomy kind.
func (m *Metrics) Failed(err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(device.Kind(err)).Inc()
}
