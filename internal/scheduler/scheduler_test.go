package scheduler

import (
	"testing"
	"time"

	"costshub/internal/costmodel"
	"costshub/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, q *queue.Queue) *Scheduler {
	t.Helper()
	s := New(q)
	require.NoError(t, s.AddRule(Rule{
		Name:      "weekly-aws",
		Frequency: FrequencyWeekly,
		Providers: []costmodel.Provider{costmodel.ProviderAWS},
		Priority:  queue.PriorityNormal,
		Enabled:   true,
	}))
	return s
}

func TestTickEnqueuesDueRules(t *testing.T) {
	q := queue.New(5*time.Minute, 5)
	s := newTestScheduler(t, q)
	s.RegisterClient("acme")
	s.RegisterClient("globex")

	now := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)

	// Never-run rules are due immediately
	enqueued, err := s.Tick(now)
	require.NoError(t, err)
	assert.Equal(t, 2, enqueued)

	// Ticking again inside the interval enqueues nothing
	enqueued, err = s.Tick(now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, enqueued)

	// Eight days later the weekly rule is due again
	enqueued, err = s.Tick(now.AddDate(0, 0, 8))
	require.NoError(t, err)
	assert.Equal(t, 2, enqueued)
}

func TestTickTaskShape(t *testing.T) {
	q := queue.New(5*time.Minute, 5)
	s := newTestScheduler(t, q)
	s.RegisterClient("acme")

	now := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)
	_, err := s.Tick(now)
	require.NoError(t, err)

	delivery, ok := q.Dequeue()
	require.True(t, ok)
	task := delivery.Task
	assert.Equal(t, "acme", task.ClientID)
	assert.Equal(t, []costmodel.Provider{costmodel.ProviderAWS}, task.Providers)
	assert.Equal(t, queue.PriorityNormal, task.Priority)
	assert.Equal(t, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), task.End)
	assert.Equal(t, time.Date(2026, 8, 13, 0, 0, 0, 0, time.UTC), task.Start)
}

func TestMonthlyAdvancesByCalendarMonth(t *testing.T) {
	q := queue.New(5*time.Minute, 5)
	s := New(q)
	require.NoError(t, s.AddRule(Rule{
		Name:      "monthly-all",
		Frequency: FrequencyMonthly,
		Providers: costmodel.AllProviders(),
		Enabled:   true,
	}))
	s.RegisterClient("acme")

	jan31 := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	enqueued, err := s.Tick(jan31)
	require.NoError(t, err)
	require.Equal(t, 1, enqueued)

	// Feb 28 is not yet a calendar month after Jan 31
	enqueued, err = s.Tick(time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, enqueued)

	// AddDate(0,1,0) from Jan 31 normalizes to Mar 3
	enqueued, err = s.Tick(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, enqueued)
}

func TestDisabledRuleSkipped(t *testing.T) {
	q := queue.New(5*time.Minute, 5)
	s := newTestScheduler(t, q)
	s.RegisterClient("acme")

	require.NoError(t, s.DisableRule("weekly-aws"))
	enqueued, err := s.Tick(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, enqueued)

	// Re-enabling is idempotent and makes the rule due again
	require.NoError(t, s.EnableRule("weekly-aws"))
	require.NoError(t, s.EnableRule("weekly-aws"))
	enqueued, err = s.Tick(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, enqueued)
}

func TestEnableUnknownRule(t *testing.T) {
	s := New(queue.New(5*time.Minute, 5))
	assert.Error(t, s.EnableRule("nope"))
	assert.Error(t, s.DisableRule("nope"))
}

func TestAddRuleValidation(t *testing.T) {
	s := New(queue.New(5*time.Minute, 5))

	assert.Error(t, s.AddRule(Rule{Frequency: FrequencyDaily, Providers: costmodel.AllProviders()}))
	assert.Error(t, s.AddRule(Rule{Name: "bad-freq", Frequency: "FORTNIGHTLY", Providers: costmodel.AllProviders()}))
	assert.Error(t, s.AddRule(Rule{Name: "no-providers", Frequency: FrequencyDaily}))
}

func TestScheduleBatchPartialFailure(t *testing.T) {
	// Depth 2 queue forces the third enqueue to fail
	q := queue.New(5*time.Minute, 5, queue.WithMaxDepth(2))
	s := New(q)

	end := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	failed := s.ScheduleBatch([]string{"a", "b", "c"}, end.AddDate(0, 0, -7), end,
		costmodel.AllProviders(), queue.PriorityHigh)

	assert.Equal(t, []string{"c"}, failed)
	lengths := q.Lengths()
	assert.Equal(t, 2, lengths["HIGH"])
}

func TestRegisterClientDeduplicates(t *testing.T) {
	q := queue.New(5*time.Minute, 5)
	s := newTestScheduler(t, q)
	s.RegisterClient("acme")
	s.RegisterClient("acme")

	enqueued, err := s.Tick(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, enqueued)
}
