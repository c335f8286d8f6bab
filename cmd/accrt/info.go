package main

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/accrt/internal/backend"
	"github.com/samcharles93/accrt/internal/config"
	"github.com/samcharles93/accrt/internal/logger"
	"github.com/samcharles93/accrt/internal/version"
	"github.com/samcharles93/accrt/pkg/device"
)

type infoReport struct {
	Version   version.Info  `json:"version"`
	Available string        `json:"available_backends"`
	Config    config.Config `json:"config"`
	Backend   string        `json:"backend"`
	Ready     bool          `json:"ready"`
	Device    *device.Info  `json:"device,omitempty"`
	Streams   int           `json:"streams"`
	Error     string        `json:"error,omitempty"`
}

func infoCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:  "info",
		Usage: "Show backends, configuration and device readiness",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := settingsFrom(ctx)

			report := infoReport{
				Version:   version.Resolve(),
				Available: backend.Available(),
				Config:    cfg,
				Streams:   cfg.Streams,
			}
			rt, err := openRuntime(cfg, log)
			if err != nil {
				report.Error = err.Error()
			} else {
				snap := rt.Snapshot()
				report.Backend = snap.Backend
				report.Ready = snap.Ready
				report.Device = snap.Device
				if err := rt.Shutdown(); err != nil {
					log.Warn("shutdown failed", "error", err)
				}
			}

			w := cmd.Root().Writer
			if asJSON {
				b, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, string(b))
				return err
			}

			fmt.Fprintf(w, "version:    %s\n", report.Version)
			fmt.Fprintf(w, "backends:   %s\n", report.Available)
			fmt.Fprintf(w, "selected:   %s\n", cfg.Backend)
			fmt.Fprintf(w, "streams:    %d\n", report.Streams)
			if report.Error != "" {
				fmt.Fprintf(w, "device:     unavailable (%s)\n", report.Error)
				return nil
			}
			fmt.Fprintf(w, "backend:    %s\n", report.Backend)
			fmt.Fprintf(w, "ready:      %t\n", report.Ready)
			if d := report.Device; d != nil {
				fmt.Fprintf(w, "device:     %s (%d device(s))\n", d.Name, d.Devices)
				if d.TotalMemory > 0 {
					fmt.Fprintf(w, "memory:     %d bytes\n", d.TotalMemory)
				}
			}
			return nil
		},
	}
}
