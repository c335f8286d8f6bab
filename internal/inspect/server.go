// Package inspect serves a read-only HTTP view of a live runtime.
package inspect

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/accrt/internal/metrics"
	"github.com/samcharles93/accrt/internal/stream"
	"github.com/samcharles93/accrt/internal/version"
	"github.com/samcharles93/accrt/internal/webui"
	"github.com/samcharles93/accrt/pkg/accrt"
)

// Source is the runtime state the server reads. *accrt.Runtime implements it.
type Source interface {
	Snapshot() accrt.Snapshot
	Metrics() *metrics.Metrics
}

type Server struct {
	src Source
}

func NewServer(src Source) *Server {
	return &Server{src: src}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/", s.handleIndex)
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/runtime", s.handleRuntime)
	e.GET("/v1/allocations", s.handleAllocations)
	e.GET("/v1/streams", s.handleStreams)
	e.GET("/metrics", s.handleMetrics)
}

type RuntimeResponse struct {
	ID          string       `json:"id"`
	Backend     string       `json:"backend"`
	Ready       bool         `json:"ready"`
	Version     version.Info `json:"version"`
	Allocations int          `json:"allocations"`
	LiveBytes   int64        `json:"live_bytes"`
	StreamSlots int          `json:"stream_slots"`
	LiveStreams int          `json:"live_streams"`
	RegionDepth int          `json:"region_depth"`
	Pending     int          `json:"pending"`
	StagedArgs  int          `json:"staged_args"`
}

type AllocationsResponse struct {
	Allocations []accrt.Allocation `json:"allocations"`
	LiveBytes   int64              `json:"live_bytes"`
}

type StreamsResponse struct {
	Size        int                `json:"size"`
	DefaultSlot int                `json:"default_slot"`
	Idle        bool               `json:"idle"`
	Slots       []stream.SlotState `json:"slots"`
}

func (s *Server) handleIndex(c *echo.Context) error {
	return c.Blob(http.StatusOK, "text/html; charset=utf-8", webui.Index())
}

func (s *Server) handleHealth(c *echo.Context) error {
	snap := s.src.Snapshot()
	if !snap.Ready {
		return writeJSON(c, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
	return writeJSON(c, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRuntime(c *echo.Context) error {
	snap := s.src.Snapshot()
	live := 0
	for _, slot := range snap.Streams {
		if slot.Created {
			live++
		}
	}
	return writeJSON(c, http.StatusOK, RuntimeResponse{
		ID:          snap.ID,
		Backend:     snap.Backend,
		Ready:       snap.Ready,
		Version:     version.Resolve(),
		Allocations: len(snap.Allocations),
		LiveBytes:   snap.LiveBytes,
		StreamSlots: len(snap.Streams),
		LiveStreams: live,
		RegionDepth: snap.RegionDepth,
		Pending:     len(snap.Pending),
		StagedArgs:  snap.StagedArgs,
	})
}

func (s *Server) handleAllocations(c *echo.Context) error {
	snap := s.src.Snapshot()
	return writeJSON(c, http.StatusOK, AllocationsResponse{
		Allocations: snap.Allocations,
		LiveBytes:   snap.LiveBytes,
	})
}

func (s *Server) handleStreams(c *echo.Context) error {
	snap := s.src.Snapshot()
	resp := StreamsResponse{
		Size:        len(snap.Streams),
		DefaultSlot: len(snap.Streams) - 1,
		Idle:        true,
		Slots:       snap.Streams,
	}
	for _, slot := range snap.Streams {
		if !slot.Idle {
			resp.Idle = false
		}
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleMetrics(c *echo.Context) error {
	s.src.Metrics().Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

func writeJSON(c *echo.Context, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Blob(status, echo.MIMEApplicationJSON, b)
}
