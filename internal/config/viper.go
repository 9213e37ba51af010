package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"costshub/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// parameterSource tracks where each parameter value came from
type parameterSource struct {
	Key    string
	Value  interface{}
	Source string
}

// flagNames maps config keys to their command-line flag names
var flagNames = map[string]string{
	"aws.profile":                    "profile",
	"aws.billing_role":               "billing-role",
	"app.max_workers":                "max-workers",
	"app.log_format":                 "log-format",
	"app.log_level":                  "log-level",
	"collector.global_concurrency":   "global-concurrency",
	"collector.provider_concurrency": "provider-concurrency",
	"collector.task_timeout":         "task-timeout",
	"queue.visibility_timeout":       "visibility-timeout",
	"queue.max_attempts":             "max-attempts",
}

// getParameterSource determines where a parameter value came from (config file, env var, flag, or default)
func getParameterSource(key string, cmd *cobra.Command) parameterSource {
	value := viper.Get(key)
	envKey := "COSTSHUB_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))

	flagName := flagNames[key]
	if flagName == "" {
		flagName = strings.Replace(key, ".", "-", -1)
	}

	// Check if flag was set on command line - check both local and persistent flags
	if cmd != nil {
		if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
			return parameterSource{key, value, "command line flag"}
		}

		current := cmd
		for current != nil {
			if f := current.PersistentFlags().Lookup(flagName); f != nil && f.Changed {
				return parameterSource{key, value, "command line flag"}
			}
			current = current.Parent()
		}
	}

	if _, exists := os.LookupEnv(envKey); exists {
		return parameterSource{key, value, "environment variable"}
	}

	if viper.GetViper().InConfig(key) {
		return parameterSource{key, value, "config file"}
	}

	return parameterSource{key, value, "default value"}
}

// LogConfigurationSources logs the source of each configuration parameter
func LogConfigurationSources(cmd *cobra.Command) {
	logging.Debug("Configuration parameter sources:", nil)

	params := []string{
		"aws.profile",
		"aws.billing_role",
		"app.max_workers",
		"app.log_format",
		"app.log_level",
		"collector.global_concurrency",
		"collector.provider_concurrency",
		"collector.task_timeout",
		"queue.visibility_timeout",
		"queue.max_attempts",
		"schedule.tick_interval",
		"store.snapshot_file",
		"metrics.listen_addr",
	}

	for _, param := range params {
		source := getParameterSource(param, cmd)
		logging.Debug(fmt.Sprintf("  %s = %v (from %s)", source.Key, source.Value, source.Source), nil)
	}
}

// InitConfig initializes the Viper configuration
func InitConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Current directory first, then the user config dir
	viper.AddConfigPath(".")
	if homeDir, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(homeDir, ".costshub"))
	}

	viper.SetEnvPrefix("COSTSHUB")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	// Set defaults for all configuration values
	viper.SetDefault("aws.profile", "default")
	viper.SetDefault("aws.billing_role", "")
	viper.SetDefault("app.max_workers", 8)
	viper.SetDefault("app.log_format", "text")
	viper.SetDefault("app.log_level", "INFO")
	viper.SetDefault("collector.global_concurrency", 8)
	viper.SetDefault("collector.provider_concurrency", 2)
	viper.SetDefault("collector.task_timeout", "10m")
	viper.SetDefault("queue.visibility_timeout", "5m")
	viper.SetDefault("queue.max_attempts", 5)
	viper.SetDefault("schedule.tick_interval", "1m")
	viper.SetDefault("store.snapshot_file", "")
	viper.SetDefault("metrics.listen_addr", "")
	viper.SetDefault("thresholds.file", "")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay, defaults and env vars apply
	}

	return nil
}

// Apply copies viper values into the global config instance. Flag bindings
// write directly into Config, so only keys that were not overridden by flags
// are refreshed here.
func Apply() {
	Config.Profile = viper.GetString("aws.profile")
	Config.BillingRole = viper.GetString("aws.billing_role")
	Config.MaxWorkers = viper.GetInt("app.max_workers")
	Config.GlobalConcurrency = viper.GetInt("collector.global_concurrency")
	Config.ProviderConcurrency = viper.GetInt("collector.provider_concurrency")
	Config.TaskTimeout = viper.GetDuration("collector.task_timeout")
	Config.VisibilityTimeout = viper.GetDuration("queue.visibility_timeout")
	Config.MaxAttempts = viper.GetInt("queue.max_attempts")
	Config.LogFormat = viper.GetString("app.log_format")
}

// SetConfigFile sets a custom config file path and reloads the configuration
func SetConfigFile(configFile string) error {
	viper.SetConfigFile(configFile)

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

const defaultConfig = `# Costs Hub Configuration File

# AWS Configuration
aws:
  profile: default  # AWS profile for billing API access (supports SSO profiles)
  billing_role: ""  # Role name to assume for cross-account billing reads

# Application Configuration
app:
  max_workers: 8    # Maximum number of concurrent workers for batch runs
  log_format: text  # Log output format (text or json)
  log_level: INFO   # Set logging level (DEBUG, INFO, WARN, ERROR)

# Collector Configuration
collector:
  global_concurrency: 8    # Simultaneous provider calls across all clients
  provider_concurrency: 2  # Concurrent calls against any single provider API
  task_timeout: 10m        # Hard deadline for one collection task

# Queue Configuration
queue:
  visibility_timeout: 5m  # Redelivery window for unacknowledged tasks
  max_attempts: 5         # Deliveries before a task is dead-lettered

# Scheduler Configuration
schedule:
  tick_interval: 1m
  clients: []  # Client ids to schedule, e.g. [acme, globex]
  rules: []
  # rules:
  #   - name: daily-all
  #     frequency: DAILY
  #     priority: NORMAL
  #     providers: []  # empty = all providers

# Record store snapshot (empty = in-memory only)
store:
  snapshot_file: ""

# Prometheus metrics endpoint (empty = disabled)
metrics:
  listen_addr: ""

# Threshold configuration file (empty = no evaluation)
thresholds:
  file: ""

# Per-client provider credentials
clients: {}
# clients:
#   acme:
#     aws:
#       profile: acme-billing
#       role_arn: arn:aws:iam::123456789012:role/BillingRead
#       account_id: "123456789012"
#     azure:
#       tenant_id: ...
#       client_id: ...
#       client_secret: ...
#       subscription_id: ...
#     gcp:
#       project_id: acme-prod
#       service_account_json: ...
`

// WriteDefaultConfig writes the commented default config to path, refusing to
// overwrite an existing file.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return nil
}
