// Package main is the entry point for the facegallery server.
package main

import (
	"os"

	"github.com/hanvq/facegallery/cmd/facegallery/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
