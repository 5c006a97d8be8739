// Command jump manages Wake-on-LAN devices registered with a device service.
//
// Each subcommand loads configuration, talks to the service through the
// cached client and prints the resulting notifications. The bridge
// subcommand keeps the client running and serves its state to renderers
// over a websocket and a small JSON API.
package main

//	@title			jump bridge API
//	@version		0.1.0
//	@description	Live Wake-on-LAN client state and commands for renderers.
//	@BasePath		/api/v1

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/HerbHall/jump/api/swagger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		// Errors the device service already reported as a notification
		// have been printed.
		var rep *reportedError
		if !errors.As(err, &rep) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}
