package main

import (
	"context"
	"os"

	"github.com/truly-network/eventlistener/app/tables"
)

func main() {
	if err := tables.NewRootCmd(tables.Open).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
