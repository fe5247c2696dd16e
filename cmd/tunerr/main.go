// Package main is the entry point for the tunerr application.
package main

import (
	"os"

	"github.com/jmylchreest/tunerr/cmd/tunerr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
