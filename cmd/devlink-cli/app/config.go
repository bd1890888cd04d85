package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const configTemplate = `# Devlink CLI configuration.
server = %q
api-key = %q
`

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the CLI configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := cfg.APIKey
			if key != "" {
				key = "(set)"
			}
			fmt.Printf("server:  %s\napi-key: %s\n", cfg.Server, key)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a config file with the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = defaultConfigPath()
			}
			if path == "" {
				return fmt.Errorf("cannot determine config path; pass --config")
			}

			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}

			content := fmt.Sprintf(configTemplate, cfg.Server, cfg.APIKey)
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			fmt.Printf("Config written to %s\n", path)
			return nil
		},
	})

	return cmd
}
