// Package main is the entry point for the tenantd daemon.
//
// Usage:
//
//	tenantd serve              — run the daemon (HTTP invoke API)
//	tenantd status             — check daemon health
//	tenantd stop               — signal the running daemon
//	tenantd service install    — install as an OS service
//	tenantd version            — print version
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
