package schedule

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"costshub/internal/collector"
	"costshub/internal/config"
	"costshub/internal/costmodel"
	"costshub/internal/credstore"
	"costshub/internal/logging"
	"costshub/internal/mapper"
	"costshub/internal/monitoring"
	"costshub/internal/providers"
	"costshub/internal/queue"
	"costshub/internal/scheduler"
	"costshub/internal/store"
	"costshub/internal/thresholds"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type scheduleOptions struct {
	consumers    int
	pollInterval time.Duration
}

// NewScheduleCmd creates the schedule command
func NewScheduleCmd() *cobra.Command {
	opts := &scheduleOptions{}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the collection scheduler daemon",
		Long: `Run the scheduler as a long-lived process: schedule rules from the config
file are evaluated on every tick, due collections are enqueued, and a set of
consumers drains the queue. When metrics.listen_addr is configured, queue
depths and collection outcomes are exposed for Prometheus.`,
		Example: `  # Run with the rules and clients from config.yaml
  costshub schedule

  # Run with four queue consumers
  costshub schedule --consumers 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.consumers, "consumers", 2, "Number of queue consumers")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", 2*time.Second, "Consumer poll interval when the queue is empty")

	return cmd
}

// rawRule is the mapstructure shape of a schedule rule in the config file.
type rawRule struct {
	Name      string   `mapstructure:"name"`
	Frequency string   `mapstructure:"frequency"`
	Priority  string   `mapstructure:"priority"`
	Providers []string `mapstructure:"providers"`
	Disabled  bool     `mapstructure:"disabled"`
}

func runSchedule(ctx context.Context, opts *scheduleOptions) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds, err := credstore.FromConfigMap(viper.GetStringMap("clients"))
	if err != nil {
		return fmt.Errorf("invalid clients configuration: %w", err)
	}
	clients := viper.GetStringSlice("schedule.clients")
	if len(clients) == 0 {
		clients = creds.Clients()
	}
	if len(clients) == 0 {
		return fmt.Errorf("no clients configured; add a clients section to the config file")
	}

	records, err := store.NewMemoryStore(viper.GetString("store.snapshot_file"))
	if err != nil {
		return err
	}

	sink := monitoring.Sink(monitoring.NopSink{})
	listenAddr := viper.GetString("metrics.listen_addr")
	var promSink *monitoring.PrometheusSink
	if listenAddr != "" {
		promSink = monitoring.NewPrometheusSink()
		sink = promSink
	}

	q := queue.New(config.Config.VisibilityTimeout, config.Config.MaxAttempts,
		queue.WithSink(sink))

	sched := scheduler.New(q, scheduler.WithSink(sink))
	for _, clientID := range clients {
		sched.RegisterClient(clientID)
	}
	if err := loadRules(sched); err != nil {
		return err
	}

	thresholdCfg, err := thresholds.LoadConfig(viper.GetString("thresholds.file"))
	if err != nil {
		return err
	}

	factory := providers.DefaultFactory(mapper.New(), time.Now)
	orchestrator := collector.New(factory, creds, records, collector.Options{
		GlobalConcurrency:   config.Config.GlobalConcurrency,
		ProviderConcurrency: config.Config.ProviderConcurrency,
		TaskTimeout:         config.Config.TaskTimeout,
		Sink:                sink,
		OnResult:            evaluateResult(thresholdCfg, records, sink),
	})

	if promSink != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promSink.Registry(), promhttp.HandlerOpts{}))
		server := &http.Server{Addr: listenAddr, Handler: mux}
		go func() {
			logging.Info("Serving metrics", map[string]interface{}{
				"addr": listenAddr,
			})
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("Metrics server failed", err, nil)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	tickInterval := viper.GetDuration("schedule.tick_interval")
	if tickInterval <= 0 {
		tickInterval = time.Minute
	}

	logging.Info("Scheduler starting", map[string]interface{}{
		"clients":       len(clients),
		"rules":         len(sched.Rules()),
		"tick_interval": tickInterval.String(),
		"consumers":     opts.consumers,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx, tickInterval)
	}()

	for i := 0; i < opts.consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			orchestrator.Consume(ctx, q, opts.pollInterval)
		}()
	}

	// First tick immediately so a fresh daemon does not idle for a full
	// interval before any work happens.
	if _, err := sched.Tick(time.Now()); err != nil {
		logging.Error("Initial tick completed with errors", err, nil)
	}

	<-ctx.Done()
	logging.Info("Shutting down", nil)
	wg.Wait()

	if dead := q.DeadLetters(); len(dead) > 0 {
		logging.Warn("Dead-lettered tasks at shutdown", map[string]interface{}{
			"count": len(dead),
		})
	}
	return nil
}

// evaluateResult returns the hook that runs threshold evaluation after each
// consumed collection. Triggered alerts are logged and counted on the
// monitoring sink; alert delivery beyond that is out of scope here.
func evaluateResult(cfg thresholds.Config, records store.RecordStore, sink monitoring.Sink) func(context.Context, *collector.CollectionResult) {
	if len(cfg.Thresholds) == 0 {
		return nil
	}

	return func(ctx context.Context, result *collector.CollectionResult) {
		if len(result.Records) == 0 {
			return
		}

		// Two months of history covers the widest baseline period a rule
		// can name.
		history, err := records.GetHistory(ctx, result.ClientID,
			result.Start.AddDate(0, -2, 0), result.Start.AddDate(0, 0, -1))
		if err != nil {
			logging.Error("Failed to load threshold history", err, map[string]interface{}{
				"client_id": result.ClientID,
			})
			sink.RecordError("thresholds", "MEDIUM", err)
			return
		}

		for _, alert := range thresholds.Evaluate(cfg, result.Records, history) {
			if !alert.Triggered {
				continue
			}
			logging.Warn("Threshold triggered", map[string]interface{}{
				"client_id": result.ClientID,
				"threshold": alert.ThresholdName,
				"severity":  string(alert.Severity),
				"message":   alert.Message,
			})
			sink.IncCounter("costshub_threshold_alerts_total", map[string]string{
				"threshold": alert.ThresholdName,
				"severity":  string(alert.Severity),
			})
		}
	}
}

func loadRules(sched *scheduler.Scheduler) error {
	var raw []rawRule
	if err := viper.UnmarshalKey("schedule.rules", &raw); err != nil {
		return fmt.Errorf("invalid schedule.rules: %w", err)
	}

	if len(raw) == 0 {
		// Sensible default: collect yesterday's costs for every provider,
		// every day.
		raw = []rawRule{{Name: "daily-all", Frequency: "DAILY", Priority: "NORMAL"}}
	}

	for _, rr := range raw {
		freq, err := scheduler.ParseFrequency(rr.Frequency)
		if err != nil {
			return fmt.Errorf("rule %s: %w", rr.Name, err)
		}

		priority := queue.PriorityNormal
		if rr.Priority != "" {
			priority, err = queue.ParsePriority(rr.Priority)
			if err != nil {
				return fmt.Errorf("rule %s: %w", rr.Name, err)
			}
		}

		ruleProviders := costmodel.AllProviders()
		if len(rr.Providers) > 0 {
			ruleProviders = make([]costmodel.Provider, 0, len(rr.Providers))
			for _, name := range rr.Providers {
				p, err := costmodel.ParseProvider(name)
				if err != nil {
					return fmt.Errorf("rule %s: %w", rr.Name, err)
				}
				ruleProviders = append(ruleProviders, p)
			}
		}

		if err := sched.AddRule(scheduler.Rule{
			Name:      rr.Name,
			Frequency: freq,
			Providers: ruleProviders,
			Priority:  priority,
			Enabled:   !rr.Disabled,
		}); err != nil {
			return err
		}
	}
	return nil
}
