// Package main is the entry point for the source agent.
package main

import (
	"os"

	"github.com/headerkit/source-agent/cmd/source-agent/app"
)

func main() {
	app.SetupLogging(app.LogLevelFromEnv())

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
