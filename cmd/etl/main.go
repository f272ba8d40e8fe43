// Command etl extracts the traffic sensor spreadsheet, normalizes it and
// loads it into the warehouse.
//
//	etl run [-v] [--truncate] [--env-file path]
//	etl validate [--env-file path]
//
// The process exits with the run outcome: 0 success, 1 configuration,
// 2 extraction, 3 transformation, 4 load, 99 unexpected.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	// Register every parser, blob store and warehouse backend. Configuration
	// picks one of each at run time.
	_ "trafficetl/internal/blobstore/all"
	_ "trafficetl/internal/parser/all"
	_ "trafficetl/internal/warehouse/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
