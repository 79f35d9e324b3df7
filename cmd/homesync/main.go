// Package main is the entry point for the homesync daemon.
//
// homesync keeps a set of locally owned smart devices in sync with a voice
// assistant backend. It:
//   - Authenticates one shared connection per account and group
//   - Mirrors device state through a retained MQTT store
//   - Rate-limits state reports, syncs and notifications
//   - Serves LAN command execution for eligible devices
//   - Optionally records state history in SQLite and telemetry in InfluxDB
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set at build time via ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := Execute(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
