package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/accrt/internal/inspect"
	"github.com/samcharles93/accrt/internal/logger"
	"github.com/samcharles93/accrt/internal/workload"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		rate        float64
		buffers     int64
		size        int64
		tags        int64
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the synthetic workload continuously and serve the inspector",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "inspector listen address (default from config)",
				Destination: &addr,
			},
			&cli.Float64Flag{
				Name:        "rate",
				Usage:       "workload iterations per second (0 for unpaced)",
				Value:       10,
				Destination: &rate,
			},
			&cli.Int64Flag{
				Name:        "buffers",
				Usage:       "mirrored buffers per iteration",
				Value:       4,
				Destination: &buffers,
			},
			&cli.Int64Flag{
				Name:        "size",
				Usage:       "buffer size in bytes",
				Value:       64 << 10,
				Destination: &size,
			},
			&cli.Int64Flag{
				Name:        "tags",
				Usage:       "async tags used by the workload",
				Value:       4,
				Destination: &tags,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       10 * time.Second,
				Destination: &readTimeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := settingsFrom(ctx)
			if !cmd.IsSet("addr") {
				addr = cfg.InspectAddress
			}

			rt, err := openRuntime(cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Shutdown(); err != nil {
					log.Warn("shutdown failed", "error", err)
				}
			}()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				res, err := workload.Run(ctx, rt, workload.Config{
					Buffers: int(buffers),
					Size:    size,
					Tags:    int(tags),
					Rate:    rate,
					Logger:  log,
				})
				log.Info("workload stopped", "iterations", res.Iterations, "elapsed", res.Elapsed)
				if err != nil {
					log.Error("workload failed", "error", err)
					cancel()
				}
				done <- err
			}()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			inspect.NewServer(rt).Register(e)
			log.Info("starting inspector", "address", addr, "runtime", rt.ID(), "backend", rt.Backend())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			serveErr := sc.Start(ctx, e)
			cancel()
			workErr := <-done
			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				return serveErr
			}
			return workErr
		},
	}
}
