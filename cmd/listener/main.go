package main

import (
	"context"

	"github.com/truly-network/eventlistener/app/listener"
)

func main() {
	// SIGINT and SIGTERM are handled by the app's lifecycle, which exits the process.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := listener.Initialize(ctx)

	app.Start(ctx)
}
