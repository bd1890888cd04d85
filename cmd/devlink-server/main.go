package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/devlink-io/devlink/cmd/devlink-server/app"
)

func main() {
	if err := app.NewServerCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
