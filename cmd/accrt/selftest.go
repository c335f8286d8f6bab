package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/accrt/internal/logger"
	"github.com/samcharles93/accrt/internal/workload"
	"github.com/samcharles93/accrt/pkg/accrt"
)

func selftestCmd() *cli.Command {
	return &cli.Command{
		Name:  "selftest",
		Usage: "Check residency, region and stream ordering behaviour on the selected backend",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := settingsFrom(ctx)
			// Failures are expected outcomes here, never a reason to exit early.
			cfg.FatalExit = false

			checks := workload.SelfTest(func() (*accrt.Runtime, error) {
				return openRuntime(cfg, logger.Discard())
			})

			w := cmd.Root().Writer
			failed := 0
			for _, c := range checks {
				if c.Passed() {
					fmt.Fprintf(w, "PASS  %s\n", c.Name)
					continue
				}
				failed++
				fmt.Fprintf(w, "FAIL  %s: %v\n", c.Name, c.Err)
				log.Debug("check failed", "check", c.Name, "error", c.Err)
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("selftest: %d of %d checks failed", failed, len(checks)), 1)
			}
			fmt.Fprintf(w, "ok    %d checks\n", len(checks))
			return nil
		},
	}
}
