package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"costshub/internal/costmodel"
	"costshub/internal/credstore"
	"costshub/internal/logging"
	"costshub/internal/monitoring"
	"costshub/internal/providers"
	"costshub/internal/queue"
	"costshub/internal/store"
	"costshub/internal/worker"
)

// Status is the aggregate outcome of one collection run.
type Status string

const (
	StatusComplete Status = "COMPLETE"
	StatusPartial  Status = "PARTIAL"
	StatusFailed   Status = "FAILED"
)

// ProviderOutcome is one provider's result within a run.
type ProviderOutcome struct {
	Provider costmodel.Provider
	Records  int
	Err      error
	Duration time.Duration

	normalized []costmodel.UnifiedCostRecord
}

// CollectionResult summarizes one collection run across all requested
// providers. Start and End carry the task's date range so downstream
// evaluation can frame its baseline against the collected period.
type CollectionResult struct {
	ClientID    string
	Start       time.Time
	End         time.Time
	Status      Status
	Outcomes    []ProviderOutcome
	Records     []costmodel.UnifiedCostRecord
	Duration    time.Duration
	SuccessRate float64
}

// semaphore is a counting semaphore with an observable held count.
type semaphore struct {
	slots chan struct{}
	held  atomic.Int64
}

func newSemaphore(n int) *semaphore {
	return &semaphore{slots: make(chan struct{}, n)}
}

func (s *semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		s.held.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) Release() {
	s.held.Add(-1)
	<-s.slots
}

// Held returns the number of slots currently acquired.
func (s *semaphore) Held() int64 {
	return s.held.Load()
}

// Orchestrator runs collections: it fans out to one goroutine per requested
// provider, waits for all of them, and tolerates partial failure. A global
// semaphore bounds total in-flight provider fetches across all concurrent
// runs; per-provider semaphores additionally bound each provider's share so
// one slow provider cannot starve the rest.
type Orchestrator struct {
	factory *providers.Factory
	creds   credstore.Store
	records store.RecordStore
	sink    monitoring.Sink

	global      *semaphore
	perProvider map[costmodel.Provider]*semaphore
	taskTimeout time.Duration
	onResult    func(context.Context, *CollectionResult)
}

// Options configures an Orchestrator.
type Options struct {
	GlobalConcurrency   int
	ProviderConcurrency int
	TaskTimeout         time.Duration
	Sink                monitoring.Sink

	// OnResult, when set, is called from Consume after every run that
	// produced data (COMPLETE or PARTIAL). The schedule daemon hangs
	// threshold evaluation off this hook.
	OnResult func(context.Context, *CollectionResult)
}

// New creates an Orchestrator.
func New(factory *providers.Factory, creds credstore.Store, records store.RecordStore, opts Options) *Orchestrator {
	if opts.GlobalConcurrency <= 0 {
		opts.GlobalConcurrency = 8
	}
	if opts.ProviderConcurrency <= 0 {
		opts.ProviderConcurrency = 2
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 10 * time.Minute
	}
	if opts.Sink == nil {
		opts.Sink = monitoring.NopSink{}
	}

	perProvider := make(map[costmodel.Provider]*semaphore)
	for _, p := range costmodel.AllProviders() {
		perProvider[p] = newSemaphore(opts.ProviderConcurrency)
	}

	return &Orchestrator{
		factory:     factory,
		creds:       creds,
		records:     records,
		sink:        opts.Sink,
		global:      newSemaphore(opts.GlobalConcurrency),
		perProvider: perProvider,
		taskTimeout: opts.TaskTimeout,
		onResult:    opts.OnResult,
	}
}

// GlobalHeld returns the number of provider fetches currently in flight.
func (o *Orchestrator) GlobalHeld() int64 {
	return o.global.Held()
}

// Orchestrate collects costs for one task: every requested provider runs in
// its own goroutine, the run waits for all of them, and the aggregate status
// reflects how many succeeded. Records from successful providers are
// persisted even when others failed; on partial failure they are degraded to
// PARTIAL quality at the aggregate level first.
func (o *Orchestrator) Orchestrate(ctx context.Context, task queue.CollectionTask) *CollectionResult {
	runStart := time.Now()

	if len(task.Providers) == 0 {
		logging.Error("Rejecting task with no providers", nil, map[string]interface{}{
			"client_id": task.ClientID,
		})
		return &CollectionResult{
			ClientID: task.ClientID,
			Start:    task.Start,
			End:      task.End,
			Status:   StatusFailed,
			Duration: time.Since(runStart),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.taskTimeout)
	defer cancel()

	providerNames := make([]string, len(task.Providers))
	for i, p := range task.Providers {
		providerNames[i] = string(p)
	}
	logging.CollectionStart(task.ClientID, providerNames,
		task.Start.Format("2006-01-02"), task.End.Format("2006-01-02"))

	outcomes := make([]ProviderOutcome, len(task.Providers))
	var wg sync.WaitGroup
	for i, provider := range task.Providers {
		wg.Add(1)
		go func(i int, provider costmodel.Provider) {
			defer wg.Done()
			outcomes[i] = o.collectProvider(ctx, task, provider)
		}(i, provider)
	}
	wg.Wait()

	result := &CollectionResult{
		ClientID: task.ClientID,
		Start:    task.Start,
		End:      task.End,
		Outcomes: outcomes,
		Duration: time.Since(runStart),
	}

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Err == nil {
			succeeded++
		}
	}
	result.SuccessRate = float64(succeeded) / float64(len(outcomes))

	switch {
	case succeeded == len(outcomes):
		result.Status = StatusComplete
	case succeeded > 0:
		result.Status = StatusPartial
	default:
		result.Status = StatusFailed
	}

	// Gather and persist what we have. A partial run degrades every record's
	// quality: the client's cross-provider picture is incomplete even where a
	// single provider's data is internally consistent.
	for i := range outcomes {
		records := o.outcomeRecords(ctx, task, task.Providers[i], &outcomes[i])
		for _, rec := range records {
			if result.Status == StatusPartial && rec.Quality == costmodel.QualityComplete {
				rec.Quality = costmodel.QualityPartial
			}
			if err := o.records.Put(ctx, rec); err != nil {
				logging.Error("Failed to persist cost record", err, map[string]interface{}{
					"key": rec.Key(),
				})
				o.sink.RecordError("collector", "HIGH", err)
				continue
			}
			result.Records = append(result.Records, rec)
		}
	}

	o.sink.IncCounter("costshub_collections_total", map[string]string{
		"status": string(result.Status),
	})
	o.sink.SetGauge("costshub_collection_success_rate", result.SuccessRate, map[string]string{
		"client_id": task.ClientID,
	})
	logging.CollectionComplete(task.ClientID, string(result.Status), result.SuccessRate)
	return result
}

// collectProvider fetches one provider under both semaphores.
func (o *Orchestrator) collectProvider(ctx context.Context, task queue.CollectionTask, provider costmodel.Provider) ProviderOutcome {
	start := time.Now()
	outcome := ProviderOutcome{Provider: provider}

	defer func() {
		outcome.Duration = time.Since(start)
		if outcome.Err != nil {
			logging.ProviderError(string(provider), task.ClientID, outcome.Err)
			o.sink.IncCounter("costshub_provider_failures_total", map[string]string{
				"provider": string(provider),
			})
		}
	}()

	adapter, err := o.factory.Adapter(provider)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	creds, err := o.creds.GetCredentials(ctx, task.ClientID, provider)
	if err != nil {
		outcome.Err = fmt.Errorf("credential lookup failed: %w", err)
		return outcome
	}

	if err := o.global.Acquire(ctx); err != nil {
		outcome.Err = &providers.TimeoutError{Provider: provider, Err: err}
		return outcome
	}
	defer o.global.Release()

	sem := o.perProvider[provider]
	if err := sem.Acquire(ctx); err != nil {
		outcome.Err = &providers.TimeoutError{Provider: provider, Err: err}
		return outcome
	}
	defer sem.Release()

	logging.ProviderStart(string(provider), task.ClientID)
	resp, err := adapter.FetchCosts(ctx, creds, task.Start, task.End)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	records, err := adapter.Normalize(resp)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	outcome.Records = len(records)
	outcome.normalized = records

	quality := string(costmodel.QualityComplete)
	if resp.Dropped > 0 {
		quality = string(costmodel.QualityPartial)
	}
	logging.ProviderComplete(string(provider), task.ClientID, len(records), quality)
	return outcome
}

// outcomeRecords returns the normalized records of a successful outcome.
func (o *Orchestrator) outcomeRecords(_ context.Context, _ queue.CollectionTask, _ costmodel.Provider, outcome *ProviderOutcome) []costmodel.UnifiedCostRecord {
	if outcome.Err != nil {
		return nil
	}
	return outcome.normalized
}

// OrchestrateBatch runs one collection per task on the shared worker pool and
// returns results in task order.
func (o *Orchestrator) OrchestrateBatch(ctx context.Context, tasks []queue.CollectionTask) []*CollectionResult {
	results := make([]*CollectionResult, len(tasks))

	pool := worker.GetSharedPool()
	workerTasks := make([]worker.Task, len(tasks))
	for i, task := range tasks {
		i, task := i, task
		workerTasks[i] = func(taskCtx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			result := o.Orchestrate(taskCtx, task)
			results[i] = result
			if result.Status == StatusFailed {
				return fmt.Errorf("collection failed for client %s", task.ClientID)
			}
			return nil
		}
	}
	pool.ExecuteTasks(workerTasks)
	return results
}

// Consume polls the queue until ctx is cancelled, orchestrating each
// delivered task. Completed and partially completed tasks are acknowledged.
// A fully failed task is acknowledged only when its failure cannot be
// retried; retryable failures are negatively acknowledged so the queue can
// redeliver within the task's attempt budget.
func (o *Orchestrator) Consume(ctx context.Context, q *queue.Queue, pollInterval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, ok := q.Dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		result := o.Orchestrate(ctx, delivery.Task)
		if o.onResult != nil && result.Status != StatusFailed {
			o.onResult(ctx, result)
		}
		if result.Status == StatusFailed && o.retryableFailure(result) {
			if err := q.Nack(delivery.Receipt); err != nil {
				logging.Error("Failed to nack task", err, map[string]interface{}{
					"task_id": delivery.Task.ID,
				})
			}
			continue
		}
		if err := q.Ack(delivery.Receipt); err != nil {
			logging.Error("Failed to ack task", err, map[string]interface{}{
				"task_id": delivery.Task.ID,
			})
		}
	}
}

// retryableFailure reports whether any provider failed in a retryable way.
// A run where every provider hit a fatal error (bad credentials, malformed
// data) will fail identically next time, so redelivery is pointless.
func (o *Orchestrator) retryableFailure(result *CollectionResult) bool {
	for _, outcome := range result.Outcomes {
		if outcome.Err != nil && providers.IsRetryable(outcome.Err) {
			return true
		}
	}
	return false
}
