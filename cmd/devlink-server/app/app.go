// Package app assembles the devlink-server command: configuration loading,
// logger setup, signal handling and the server run loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/devlink-io/devlink/cmd/devlink-server/app/options"
	"github.com/devlink-io/devlink/pkg/log"
)

const commandDesc = `The Devlink server is the device-management backend. It embeds an MQTT
broker for device connections, keeps the firmware catalog in an embedded
key-value store, serves image downloads over HTTP and exposes an
authenticated WebSocket for operator tooling.`

// NewServerCommand builds the root cobra command of the server binary.
func NewServerCommand() *cobra.Command {
	opts := options.NewServerOptions()

	cmd := &cobra.Command{
		Use:   "devlink-server [config-file]",
		Short: "Launch the Devlink device-management server",
		Long:  commandDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile := ""
			if len(args) > 0 {
				configFile = args[0]
			}
			return run(opts, configFile)
		},
		SilenceUsage: true,
	}

	opts.AddFlags(cmd.Flags())

	return cmd
}

func run(opts *options.ServerOptions, configFile string) error {
	if configFile != "" {
		if err := loadConfig(configFile, opts); err != nil {
			return err
		}
	}

	log.Init(opts.Log)

	if err := opts.Complete(); err != nil {
		return fmt.Errorf("failed to complete options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cfg, err := opts.Config()
	if err != nil {
		return fmt.Errorf("failed to build configuration: %w", err)
	}

	srv, err := cfg.NewServer()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("Server exited cleanly")
	return nil
}

// loadConfig reads the TOML configuration file into opts and keeps watching
// it. Changes are logged only; a restart is needed to apply them.
func loadConfig(path string, opts *options.ServerOptions) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := v.Unmarshal(opts); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Configuration file changed, restart to apply", "file", e.Name, "op", e.Op.String())
	})
	v.WatchConfig()

	return nil
}
