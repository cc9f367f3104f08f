// Colour Lab Core - closed-loop colour mixing orchestration
//
// colourlab drives a liquid-handling lab through optimisation
// experiments: it proposes dye drop counts, dispenses them into wells,
// reads the resulting colour back and iterates towards a target colour.
//
// Subcommands:
//
//	serve    run the HTTP API, scheduler and event sinks
//	labsim   run the virtual lab simulator over HTTP
//	token    mint a bearer token for the API
//	version  print build information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Cancelled on Ctrl+C or SIGTERM; every subcommand shuts down on it.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCommand().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
