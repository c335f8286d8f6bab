package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/accrt/internal/config"
)

var (
	configFile  string
	backendName string
	streams     int64
	logLevel    string
	logFormat   string
	debug       bool
)

func globalFlags() []cli.Flag {
	def := config.Default()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default $ACCRT_CONFIG or ~/.config/accrt/config.yaml)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "device backend (auto, sim, cuda)",
			Value:       def.Backend,
			Destination: &backendName,
		},
		&cli.Int64Flag{
			Name:        "streams",
			Usage:       "stream pool size including the default stream",
			Value:       int64(def.Streams),
			Destination: &streams,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       def.LogLevel,
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       def.LogFormat,
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
