// filevault serves the deduplicating file vault API.
package main

import (
	"fmt"
	"os"

	"filevault-backend/internal/shared/config"
	"filevault-backend/internal/shared/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfg := config.Load()
	telemetry.Configure(cfg.LogLevel, cfg.LogFormat)

	if err := newRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
