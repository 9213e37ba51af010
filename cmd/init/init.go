package initcmd

import (
	"fmt"
	"os"
	"path/filepath"

	"costshub/internal/config"
	"costshub/internal/logging"

	"github.com/spf13/cobra"
)

// NewInitCmd creates the init command
func NewInitCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Create a default config.yaml with commented defaults for every setting:
provider credentials per client, collector concurrency, queue behavior,
schedule rules, and threshold configuration.`,
		Example: `  # Write config.yaml to the current directory
  costshub init

  # Write the config to the user config directory
  costshub init --output ~/.costshub/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := outputPath
			if path == "" {
				path = "config.yaml"
			}
			if expanded, err := expandHome(path); err == nil {
				path = expanded
			}

			if err := config.WriteDefaultConfig(path); err != nil {
				return err
			}

			logging.Info("Wrote default configuration", map[string]interface{}{
				"path": path,
			})
			fmt.Printf("Created %s - edit the clients section before collecting.\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Path to write the config file (default config.yaml)")

	return cmd
}

func expandHome(path string) (string, error) {
	if len(path) < 2 || path[:2] != "~/" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path, err
	}
	return filepath.Join(home, path[2:]), nil
}
