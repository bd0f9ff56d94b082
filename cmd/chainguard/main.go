// Command chainguard runs the firewalled blockchain agent as an HTTP service
// or executes a single instruction from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ChainGuard-Agent/cmd/chainguard/commands"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.NewRootCmd(version).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chainguard: %v\n", err)
		os.Exit(1)
	}
}
