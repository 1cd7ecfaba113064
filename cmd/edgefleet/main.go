package main

import (
	"os"

	"github.com/raycarroll/edgefleet/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("%v", err)
		logger.Sync()
		os.Exit(1)
	}
}
