package cmd

import (
	"strings"

	"costshub/cmd/collect"
	initCmd "costshub/cmd/init"
	"costshub/cmd/list"
	"costshub/cmd/schedule"
	"costshub/cmd/version"
	"costshub/internal/config"
	"costshub/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	var (
		logLevel   string
		configFile string
	)

	// Initialize config
	if err := config.InitConfig(); err != nil {
		return err
	}

	rootCmd := &cobra.Command{
		Use:   "costshub",
		Short: "Costs Hub - multi-cloud cost collection",
		Long: `Costs Hub collects billing data from AWS, GCP, and Azure for multiple
clients, normalizes it into a unified cost model, and evaluates spend
thresholds. It can run as a one-shot collection or as a scheduler daemon.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Set config file if specified
			if configFile != "" {
				if err := config.SetConfigFile(configFile); err != nil {
					return err
				}
			}

			// Flags are bound into viper, so Apply sees the usual viper
			// precedence: flag > env > config file > default.
			config.Apply()

			// Set log format
			logFormat := logging.Text
			if config.Config.LogFormat == "json" {
				logFormat = logging.JSON
			}

			// Set log level
			var level logging.Level
			switch strings.ToUpper(logLevel) {
			case "DEBUG":
				level = logging.DEBUG
			case "INFO":
				level = logging.INFO
			case "WARN":
				level = logging.WARN
			case "ERROR":
				level = logging.ERROR
			default:
				level = logging.INFO
			}

			// Configure logger
			logging.Configure(logging.LogConfig{
				Level:  level,
				Format: logFormat,
			})

			config.LogConfigurationSources(cmd)
			return nil
		},
	}

	// Add global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Path to config file")
	flags.StringP("profile", "p", "default", "Default AWS profile for billing API access (supports SSO profiles)")
	flags.String("billing-role", "", "Role name to assume for cross-account billing reads")
	flags.Int("max-workers", config.Config.MaxWorkers, "Maximum number of concurrent workers for batch runs")
	flags.Int("global-concurrency", config.Config.GlobalConcurrency, "Simultaneous provider calls across all clients")
	flags.Int("provider-concurrency", config.Config.ProviderConcurrency, "Concurrent calls against any single provider API")
	flags.Duration("task-timeout", config.Config.TaskTimeout, "Hard deadline for one collection task")
	flags.Duration("visibility-timeout", config.Config.VisibilityTimeout, "Redelivery window for unacknowledged tasks")
	flags.Int("max-attempts", config.Config.MaxAttempts, "Deliveries before a task is dead-lettered")
	flags.String("log-format", "text", "Log output format (text or json)")
	flags.StringVar(&logLevel, "log-level", "INFO",
		"Set logging level (DEBUG, INFO, WARN, ERROR)")

	// Bind flags into viper so Apply picks up command-line overrides
	bindings := map[string]string{
		"aws.profile":                    "profile",
		"aws.billing_role":               "billing-role",
		"app.max_workers":                "max-workers",
		"app.log_format":                 "log-format",
		"collector.global_concurrency":   "global-concurrency",
		"collector.provider_concurrency": "provider-concurrency",
		"collector.task_timeout":         "task-timeout",
		"queue.visibility_timeout":       "visibility-timeout",
		"queue.max_attempts":             "max-attempts",
	}
	for key, flagName := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flagName)); err != nil {
			return err
		}
	}

	// Add commands
	rootCmd.AddCommand(collect.NewCollectCmd())
	rootCmd.AddCommand(schedule.NewScheduleCmd())
	rootCmd.AddCommand(list.NewListCmd())
	rootCmd.AddCommand(initCmd.NewInitCmd())
	rootCmd.AddCommand(version.NewVersionCmd())

	return rootCmd.Execute()
}
