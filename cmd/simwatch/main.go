// simwatch supervises Fluidity simulation batch jobs on PBS clusters.
package main

import (
	"os"

	"github.com/rescale/simwatch/internal/cli"
	"github.com/rescale/simwatch/internal/version"
)

// Set by ldflags: -X main.Version=... -X main.BuildTime=...
var (
	Version   = ""
	BuildTime = ""
)

func main() {
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
