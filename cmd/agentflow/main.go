// Package main implements the agentflow command: an ops server for the
// background task coordinator plus maintenance commands for session storage.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
