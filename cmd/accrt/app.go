package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:   "accrt",
		Usage:  "Accelerator offload residency runtime",
		Flags:  globalFlags(),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			infoCmd(),
			selftestCmd(),
			benchCmd(),
			serveCmd(),
			versionCmd(),
		},
	}
}
