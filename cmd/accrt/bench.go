package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/accrt/internal/logger"
	"github.com/samcharles93/accrt/internal/workload"
)

func benchCmd() *cli.Command {
	var (
		size  int64
		iters int64
		tags  int64
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Compare synchronous and asynchronous transfer throughput",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "size",
				Usage:       "buffer size in bytes",
				Value:       1 << 20,
				Destination: &size,
			},
			&cli.Int64Flag{
				Name:        "iters",
				Aliases:     []string{"n"},
				Usage:       "round trips per mode",
				Value:       64,
				Destination: &iters,
			},
			&cli.Int64Flag{
				Name:        "tags",
				Usage:       "async tags to spread round trips over",
				Value:       4,
				Destination: &tags,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			rt, err := openRuntime(settingsFrom(ctx), log)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Shutdown(); err != nil {
					log.Warn("shutdown failed", "error", err)
				}
			}()

			results, err := workload.Bench(rt, size, int(iters), int(tags))
			if err != nil {
				return err
			}
			w := cmd.Root().Writer
			fmt.Fprintf(w, "backend %s, %d x %d bytes, %d tags\n", rt.Backend(), iters, size, tags)
			for _, r := range results {
				fmt.Fprintf(w, "%-6s %10s %10.1f MiB/s\n", r.Mode, r.Elapsed.Round(time.Microsecond), r.Throughput()/(1<<20))
			}
			return nil
		},
	}
}
