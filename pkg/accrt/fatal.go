package accrt

import (
	"os"

	"github.com/samcharles93/accrt/internal/logger"
)

// ExitOnFatal returns an OnFatal hook that logs err and terminates the
// process with status 1.
func ExitOnFatal(log logger.Logger) func(error) {
	if log == nil {
		log = logger.Default()
	}
	return func(err error) {
		log.Error("unrecoverable offload runtime error", "error", err)
		os.Exit(1)
	}
}
