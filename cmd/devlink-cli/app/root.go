// Package app implements the devlink command-line client. It talks to the
// server's admin WebSocket and generates certificate material for the fleet.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/devlink-io/devlink/internal/admin"
)

const (
	defaultServer  = "ws://127.0.0.1:9001/socket"
	dialTimeout    = 10 * time.Second
	configDirName  = ".devlink"
	configFileName = "config.toml"
)

type clientConfig struct {
	Server string `mapstructure:"server"`
	APIKey string `mapstructure:"api-key"`
}

var (
	cfgFile string
	cfg     clientConfig
)

// NewRootCommand builds the devlink CLI command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "devlink",
		Short: "Operator tooling for the Devlink server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadClientConfig(cmd)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to the client config file (default ~/.devlink/config.toml).")
	root.PersistentFlags().String("server", defaultServer, "Admin WebSocket URL of the server.")
	root.PersistentFlags().String("api-key", "", "API key for the admin socket.")

	root.AddCommand(newOtaCommand())
	root.AddCommand(newCertCommand())
	root.AddCommand(newConfigCommand())

	return root
}

// loadClientConfig merges the config file (if any) with command-line flags;
// flags win.
func loadClientConfig(cmd *cobra.Command) error {
	v := viper.New()
	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
	} else if path := defaultConfigPath(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	flags := cmd.Root().PersistentFlags()
	if err := v.BindPFlag("server", flags.Lookup("server")); err != nil {
		return err
	}
	if err := v.BindPFlag("api-key", flags.Lookup("api-key")); err != nil {
		return err
	}

	return v.Unmarshal(&cfg)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, configDirName, configFileName)
}

// dial connects to the server's admin socket using the loaded config.
func dial() (*admin.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no api key configured; set api-key in the config file or pass --api-key")
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	return admin.Dial(ctx, cfg.Server, cfg.APIKey)
}
