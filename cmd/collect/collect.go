package collect

import (
	"context"
	"fmt"
	"time"

	"costshub/internal/collector"
	"costshub/internal/config"
	"costshub/internal/costmodel"
	"costshub/internal/credstore"
	"costshub/internal/logging"
	"costshub/internal/mapper"
	"costshub/internal/providers"
	"costshub/internal/queue"
	"costshub/internal/store"
	"costshub/internal/thresholds"
	"costshub/internal/worker"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type collectOptions struct {
	clients        []string
	providerNames  []string
	days           int
	startDate      string
	endDate        string
	priority       string
	thresholdsFile string
}

// NewCollectCmd creates the collect command
func NewCollectCmd() *cobra.Command {
	opts := &collectOptions{}

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run a one-shot cost collection",
		Long: `Collect costs for one or more clients across their configured providers,
normalize them into unified records, and evaluate configured thresholds.

Without --clients, every client with configured credentials is collected.
Without --providers, all providers with credentials for a client are used.`,
		Example: `  # Collect the last 7 days for every configured client
  costshub collect --days 7

  # Collect one client's AWS and Azure spend for an explicit range
  costshub collect --clients acme --providers aws,azure --start 2026-08-01 --end 2026-08-20

  # High-priority collection with threshold evaluation
  costshub collect --clients acme --priority HIGH --thresholds thresholds.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.clients, "clients", nil, "Client ids to collect (default: all configured)")
	cmd.Flags().StringSliceVar(&opts.providerNames, "providers", nil, "Providers to collect (aws, gcp, azure; default: all with credentials)")
	cmd.Flags().IntVar(&opts.days, "days", 1, "Number of days to collect, ending yesterday")
	cmd.Flags().StringVar(&opts.startDate, "start", "", "Collection range start (YYYY-MM-DD, overrides --days)")
	cmd.Flags().StringVar(&opts.endDate, "end", "", "Collection range end (YYYY-MM-DD, overrides --days)")
	cmd.Flags().StringVar(&opts.priority, "priority", "NORMAL", "Task priority (HIGH, NORMAL, LOW)")
	cmd.Flags().StringVar(&opts.thresholdsFile, "thresholds", "", "Threshold config file (default: thresholds.file from config)")

	return cmd
}

func runCollect(ctx context.Context, opts *collectOptions) error {
	priority, err := queue.ParsePriority(opts.priority)
	if err != nil {
		return err
	}

	start, end, err := resolveRange(opts)
	if err != nil {
		return err
	}

	creds, err := credstore.FromConfigMap(viper.GetStringMap("clients"))
	if err != nil {
		return fmt.Errorf("invalid clients configuration: %w", err)
	}

	clients := opts.clients
	if len(clients) == 0 {
		clients = creds.Clients()
	}
	if len(clients) == 0 {
		return fmt.Errorf("no clients configured; add a clients section to the config file or pass --clients")
	}

	records, err := store.NewMemoryStore(viper.GetString("store.snapshot_file"))
	if err != nil {
		return err
	}

	factory := providers.DefaultFactory(mapper.New(), time.Now)
	orchestrator := collector.New(factory, creds, records, collector.Options{
		GlobalConcurrency:   config.Config.GlobalConcurrency,
		ProviderConcurrency: config.Config.ProviderConcurrency,
		TaskTimeout:         config.Config.TaskTimeout,
	})

	if err := worker.InitSharedPool(config.Config.MaxWorkers, config.Config.TaskTimeout); err != nil {
		return err
	}

	tasks := make([]queue.CollectionTask, 0, len(clients))
	for _, clientID := range clients {
		taskProviders, err := resolveProviders(ctx, creds, clientID, opts.providerNames)
		if err != nil {
			return err
		}
		if len(taskProviders) == 0 {
			logging.Warn("Skipping client with no usable providers", map[string]interface{}{
				"client_id": clientID,
			})
			continue
		}
		tasks = append(tasks, queue.NewTask(clientID, start, end, taskProviders, priority))
	}
	if len(tasks) == 0 {
		return fmt.Errorf("nothing to collect")
	}

	bar := progressbar.NewOptions(len(tasks),
		progressbar.OptionSetDescription("Collecting"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	var results []*collector.CollectionResult
	if len(tasks) == 1 {
		results = []*collector.CollectionResult{orchestrator.Orchestrate(ctx, tasks[0])}
		_ = bar.Add(1)
	} else {
		done := make(chan struct{})
		go func() {
			defer close(done)
			results = orchestrator.OrchestrateBatch(ctx, tasks)
		}()
		// Batch progress is approximate: the pool reports per-task completion
		// through its metrics rather than a callback.
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				_ = bar.Finish()
			case <-ticker.C:
				metrics := worker.GetSharedPool().GetMetrics()
				_ = bar.Set(int(metrics.CompletedTasks + metrics.FailedTasks))
				continue
			}
			break
		}
	}

	printSummary(results)

	return evaluateThresholds(ctx, opts, records, results, start)
}

// resolveRange turns --days or --start/--end into a UTC date range. The
// default range ends yesterday: today's billing data is still accruing.
func resolveRange(opts *collectOptions) (time.Time, time.Time, error) {
	if opts.startDate != "" || opts.endDate != "" {
		if opts.startDate == "" || opts.endDate == "" {
			return time.Time{}, time.Time{}, fmt.Errorf("--start and --end must be given together")
		}
		start, err := time.Parse("2006-01-02", opts.startDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
		}
		end, err := time.Parse("2006-01-02", opts.endDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
		}
		if end.Before(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("--end is before --start")
		}
		return start, end, nil
	}

	if opts.days <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("--days must be positive")
	}
	end := costmodel.Day(time.Now()).AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -(opts.days - 1))
	return start, end, nil
}

// resolveProviders returns the providers to collect for a client: the
// explicitly requested set, or every provider the client has credentials for.
func resolveProviders(ctx context.Context, creds credstore.Store, clientID string, names []string) ([]costmodel.Provider, error) {
	if len(names) > 0 {
		out := make([]costmodel.Provider, 0, len(names))
		for _, name := range names {
			p, err := costmodel.ParseProvider(name)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	}

	var out []costmodel.Provider
	for _, p := range costmodel.AllProviders() {
		if _, err := creds.GetCredentials(ctx, clientID, p); err == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func printSummary(results []*collector.CollectionResult) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Println()
	for _, result := range results {
		if result == nil {
			continue
		}

		var status string
		switch result.Status {
		case collector.StatusComplete:
			status = green(string(result.Status))
		case collector.StatusPartial:
			status = yellow(string(result.Status))
		default:
			status = red(string(result.Status))
		}

		fmt.Printf("%-20s %s  %d records  %.0f%% providers ok  (%s)\n",
			result.ClientID, status, len(result.Records),
			result.SuccessRate*100, result.Duration.Round(time.Millisecond))

		for _, outcome := range result.Outcomes {
			if outcome.Err != nil {
				fmt.Printf("  %-5s %s: %v\n", outcome.Provider, red("failed"), outcome.Err)
			}
		}
	}
}

func evaluateThresholds(ctx context.Context, opts *collectOptions, records store.RecordStore, results []*collector.CollectionResult, start time.Time) error {
	path := opts.thresholdsFile
	if path == "" {
		path = viper.GetString("thresholds.file")
	}
	cfg, err := thresholds.LoadConfig(path)
	if err != nil {
		return err
	}
	if len(cfg.Thresholds) == 0 {
		return nil
	}

	red := color.New(color.FgRed, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	triggered := 0
	for _, result := range results {
		if result == nil || len(result.Records) == 0 {
			continue
		}

		// Two months of history covers the widest baseline period a rule
		// can name.
		history, err := records.GetHistory(ctx, result.ClientID, start.AddDate(0, -2, 0), start.AddDate(0, 0, -1))
		if err != nil {
			return err
		}

		for _, alert := range thresholds.Evaluate(cfg, result.Records, history) {
			if !alert.Triggered {
				continue
			}
			triggered++
			label := yellow(string(alert.Severity))
			if alert.Severity == thresholds.SeverityHigh || alert.Severity == thresholds.SeverityCritical {
				label = red(string(alert.Severity))
			}
			fmt.Printf("ALERT [%s] %s: client %s: %s\n", label, alert.ThresholdName, result.ClientID, alert.Message)
		}
	}

	if triggered > 0 {
		return fmt.Errorf("%d threshold%s triggered", triggered, plural(triggered))
	}
	return nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
