package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"costshub/internal/clock"
	"costshub/internal/costmodel"
	"costshub/internal/logging"
	"costshub/internal/monitoring"
	"costshub/internal/queue"
)

// Frequency is how often a schedule rule fires per client.
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// ParseFrequency converts a case-insensitive frequency name.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(strings.ToUpper(strings.TrimSpace(s))) {
	case FrequencyDaily:
		return FrequencyDaily, nil
	case FrequencyWeekly:
		return FrequencyWeekly, nil
	case FrequencyMonthly:
		return FrequencyMonthly, nil
	}
	return "", fmt.Errorf("invalid frequency: %q", s)
}

// next returns the first instant a rule with this frequency is due again
// after a run at last. MONTHLY advances by calendar month, not 30 days.
func (f Frequency) next(last time.Time) time.Time {
	switch f {
	case FrequencyDaily:
		return last.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return last.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return last.AddDate(0, 1, 0)
	}
	return last
}

// lookback is the collection date range a frequency covers, in days before
// the tick instant.
func (f Frequency) lookback() int {
	switch f {
	case FrequencyDaily:
		return 1
	case FrequencyWeekly:
		return 7
	case FrequencyMonthly:
		return 31
	}
	return 1
}

// Rule describes a recurring collection schedule applied to every registered
// client.
type Rule struct {
	Name      string               `yaml:"name"`
	Frequency Frequency            `yaml:"frequency"`
	Providers []costmodel.Provider `yaml:"providers"`
	Priority  queue.Priority       `yaml:"priority"`
	Enabled   bool                 `yaml:"enabled"`
}

// Scheduler turns schedule rules into queued collection tasks. Each tick
// checks every enabled rule against every registered client and enqueues a
// task for the due ones. Ticks are single-flight: a tick that starts while
// another is running returns immediately instead of queueing behind it.
type Scheduler struct {
	mu     sync.Mutex
	tickMu sync.Mutex

	rules   map[string]*Rule
	clients []string
	lastRun map[string]map[string]time.Time // rule name -> client id -> last enqueue

	q    *queue.Queue
	clk  clock.Clock
	sink monitoring.Sink
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) { s.clk = clk }
}

// WithSink sets the metrics sink.
func WithSink(sink monitoring.Sink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

// New creates a Scheduler feeding q.
func New(q *queue.Queue, opts ...Option) *Scheduler {
	s := &Scheduler{
		rules:   make(map[string]*Rule),
		lastRun: make(map[string]map[string]time.Time),
		q:       q,
		clk:     clock.RealClock{},
		sink:    monitoring.NopSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddRule registers or replaces a rule by name.
func (s *Scheduler) AddRule(r Rule) error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if _, err := ParseFrequency(string(r.Frequency)); err != nil {
		return err
	}
	if len(r.Providers) == 0 {
		return fmt.Errorf("rule %s: at least one provider is required", r.Name)
	}
	if r.Priority == "" {
		r.Priority = queue.PriorityNormal
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.Name] = &r
	if _, ok := s.lastRun[r.Name]; !ok {
		s.lastRun[r.Name] = make(map[string]time.Time)
	}
	return nil
}

// EnableRule enables a rule. Enabling an already-enabled rule is a no-op.
func (s *Scheduler) EnableRule(name string) error {
	return s.setEnabled(name, true)
}

// DisableRule disables a rule. Disabling an already-disabled rule is a no-op.
func (s *Scheduler) DisableRule(name string) error {
	return s.setEnabled(name, false)
}

func (s *Scheduler) setEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[name]
	if !ok {
		return fmt.Errorf("unknown rule: %s", name)
	}
	r.Enabled = enabled
	return nil
}

// Rules returns a copy of the registered rules, sorted by name.
func (s *Scheduler) Rules() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisterClient adds a client to the schedule. Duplicate registrations are
// ignored.
func (s *Scheduler) RegisterClient(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.clients {
		if id == clientID {
			return
		}
	}
	s.clients = append(s.clients, clientID)
}

// Tick enqueues a collection task for every (enabled rule, client) pair that
// is due at now, and returns the number enqueued. Overlapping ticks are
// skipped rather than serialized. The last-run mark advances at enqueue time,
// before the task is processed, so a slow collection cannot cause the next
// tick to double-enqueue.
func (s *Scheduler) Tick(now time.Time) (int, error) {
	if !s.tickMu.TryLock() {
		logging.Warn("Tick skipped, previous tick still running", nil)
		return 0, nil
	}
	defer s.tickMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	enqueued := 0
	var firstErr error
	for _, name := range s.ruleNamesLocked() {
		rule := s.rules[name]
		if !rule.Enabled {
			continue
		}
		for _, clientID := range s.clients {
			last, ran := s.lastRun[name][clientID]
			if ran && rule.Frequency.next(last).After(now) {
				continue
			}

			end := costmodel.Day(now)
			start := end.AddDate(0, 0, -rule.Frequency.lookback())
			task := queue.NewTask(clientID, start, end, rule.Providers, rule.Priority)
			if err := s.q.Enqueue(task); err != nil {
				logging.Error("Failed to enqueue scheduled task", err, map[string]interface{}{
					"rule":      name,
					"client_id": clientID,
				})
				s.sink.RecordError("scheduler", "HIGH", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}

			s.lastRun[name][clientID] = now
			enqueued++
			s.sink.IncCounter("costshub_scheduler_enqueued_total", map[string]string{
				"rule":      name,
				"frequency": string(rule.Frequency),
			})
		}
	}

	if enqueued > 0 {
		logging.TickComplete(enqueued)
	}
	return enqueued, firstErr
}

// ScheduleBatch enqueues an immediate one-off task for each client id at the
// given priority, covering the date range [start, end]. It does not touch
// rule state. Clients whose enqueue failed are returned; a partially failed
// batch still enqueues the rest.
func (s *Scheduler) ScheduleBatch(clientIDs []string, start, end time.Time, providers []costmodel.Provider, priority queue.Priority) []string {
	var failed []string
	for _, clientID := range clientIDs {
		task := queue.NewTask(clientID, start, end, providers, priority)
		if err := s.q.Enqueue(task); err != nil {
			logging.Error("Failed to enqueue batch task", err, map[string]interface{}{
				"client_id": clientID,
			})
			failed = append(failed, clientID)
		}
	}
	return failed
}

// Run ticks on the given interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("Scheduler stopped", nil)
			return
		case <-ticker.C:
			if _, err := s.Tick(s.clk.Now()); err != nil {
				logging.Error("Tick completed with errors", err, nil)
			}
		}
	}
}

func (s *Scheduler) ruleNamesLocked() []string {
	names := make([]string, 0, len(s.rules))
	for name := range s.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
