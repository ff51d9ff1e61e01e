// Package main is the entry point for buildninja.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"

	"github.com/dshills/buildninja/internal/app"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	err := fang.Execute(
		context.Background(),
		app.NewRootCommand(app.Dependencies{}),
		fang.WithVersion(versionString()),
		fang.WithNotifySignal(os.Interrupt),
	)
	return app.ExitCode(err)
}

func versionString() string {
	if version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}
