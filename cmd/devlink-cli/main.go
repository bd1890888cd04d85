package main

import (
	"os"

	"github.com/devlink-io/devlink/cmd/devlink-cli/app"
)

func main() {
	if err := app.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
