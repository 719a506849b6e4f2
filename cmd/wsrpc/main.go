package main

import (
	"os"

	"wsrpc/cmd/wsrpc/app"
)

func main() {
	if err := app.NewRootCommandeer().Execute(); err != nil {
		os.Exit(1)
	}
}
