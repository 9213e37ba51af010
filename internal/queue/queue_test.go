package queue

import (
	"sync"
	"testing"
	"time"

	"costshub/internal/costmodel"
	"costshub/internal/monitoring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testTask(clientID string, priority Priority) CollectionTask {
	end := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	return NewTask(clientID, end.AddDate(0, 0, -1), end,
		[]costmodel.Provider{costmodel.ProviderAWS}, priority)
}

func TestLaneOrdering(t *testing.T) {
	q := New(5*time.Minute, 5)

	require.NoError(t, q.Enqueue(testTask("low", PriorityLow)))
	require.NoError(t, q.Enqueue(testTask("normal", PriorityNormal)))
	require.NoError(t, q.Enqueue(testTask("high", PriorityHigh)))

	var order []string
	for {
		delivery, ok := q.Dequeue()
		if !ok {
			break
		}
		order = append(order, delivery.Task.ClientID)
		require.NoError(t, q.Ack(delivery.Receipt))
	}

	assert.Equal(t, []string{"high", "normal", "low"}, order)
}

func TestDequeueIncrementsAttempts(t *testing.T) {
	q := New(5*time.Minute, 5)
	require.NoError(t, q.Enqueue(testTask("acme", PriorityNormal)))

	delivery, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 1, delivery.Task.Attempts, "first delivery counts as attempt 1")

	require.NoError(t, q.Nack(delivery.Receipt))
	delivery, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 2, delivery.Task.Attempts)
}

func TestVisibilityTimeoutRedelivery(t *testing.T) {
	clk := newFakeClock()
	q := New(5*time.Minute, 5, WithClock(clk))
	require.NoError(t, q.Enqueue(testTask("acme", PriorityNormal)))

	first, ok := q.Dequeue()
	require.True(t, ok)

	// Still invisible before the window lapses
	_, ok = q.Dequeue()
	assert.False(t, ok)

	clk.Advance(5*time.Minute + time.Second)

	second, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, first.Task.ID, second.Task.ID)
	assert.Equal(t, 2, second.Task.Attempts)
	assert.NotEqual(t, first.Receipt, second.Receipt)

	// The original receipt is dead after redelivery
	assert.Error(t, q.Ack(first.Receipt))
	assert.NoError(t, q.Ack(second.Receipt))
}

func TestDeadLetterAtMaxAttempts(t *testing.T) {
	clk := newFakeClock()
	recorder := monitoring.NewRecorder()
	q := New(time.Minute, 3, WithClock(clk), WithSink(recorder))
	require.NoError(t, q.Enqueue(testTask("acme", PriorityNormal)))

	// Burn through the attempt budget via visibility expiry
	for i := 1; i <= 3; i++ {
		delivery, ok := q.Dequeue()
		require.True(t, ok, "delivery %d", i)
		assert.Equal(t, i, delivery.Task.Attempts)
		clk.Advance(time.Minute + time.Second)
	}

	// Expiry of the final attempt dead-letters the task
	_, ok := q.Dequeue()
	assert.False(t, ok)

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "acme", dead[0].ClientID)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, 1, recorder.CounterValue("costshub_queue_dead_lettered_total"))
}

func TestNackBelowBudgetRequeues(t *testing.T) {
	q := New(5*time.Minute, 3)
	require.NoError(t, q.Enqueue(testTask("acme", PriorityNormal)))

	delivery, ok := q.Dequeue()
	require.True(t, ok)
	require.NoError(t, q.Nack(delivery.Receipt))

	assert.Empty(t, q.DeadLetters())
	redelivered, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, delivery.Task.ID, redelivered.Task.ID)
}

func TestRedriveDeadLetters(t *testing.T) {
	q := New(5*time.Minute, 1)
	require.NoError(t, q.Enqueue(testTask("acme", PriorityHigh)))

	delivery, ok := q.Dequeue()
	require.True(t, ok)
	require.NoError(t, q.Nack(delivery.Receipt)) // attempts == maxAttempts, dead-letters
	require.Len(t, q.DeadLetters(), 1)

	assert.Equal(t, 1, q.RedriveDeadLetters())
	assert.Empty(t, q.DeadLetters())

	redelivered, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, delivery.Task.ID, redelivered.Task.ID)
	assert.Equal(t, 1, redelivered.Task.Attempts, "redrive resets the attempt budget")
}

func TestMaxDepth(t *testing.T) {
	q := New(5*time.Minute, 5, WithMaxDepth(2))

	require.NoError(t, q.Enqueue(testTask("a", PriorityNormal)))
	require.NoError(t, q.Enqueue(testTask("b", PriorityLow)))
	assert.Error(t, q.Enqueue(testTask("c", PriorityHigh)))

	// Dequeueing frees capacity
	_, ok := q.Dequeue()
	require.True(t, ok)
	assert.NoError(t, q.Enqueue(testTask("c", PriorityHigh)))
}

func TestLengths(t *testing.T) {
	q := New(5*time.Minute, 5)
	require.NoError(t, q.Enqueue(testTask("a", PriorityHigh)))
	require.NoError(t, q.Enqueue(testTask("b", PriorityNormal)))
	require.NoError(t, q.Enqueue(testTask("c", PriorityNormal)))

	_, ok := q.Dequeue()
	require.True(t, ok)

	lengths := q.Lengths()
	assert.Equal(t, 0, lengths["HIGH"])
	assert.Equal(t, 2, lengths["NORMAL"])
	assert.Equal(t, 0, lengths["LOW"])
	assert.Equal(t, 1, lengths["inflight"])
	assert.Equal(t, 0, lengths["dead"])
}

func TestEnqueueDefaults(t *testing.T) {
	q := New(5*time.Minute, 5)

	task := CollectionTask{ClientID: "acme", Providers: []costmodel.Provider{costmodel.ProviderGCP}}
	require.NoError(t, q.Enqueue(task))

	delivery, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, PriorityNormal, delivery.Task.Priority)
	assert.NotEmpty(t, delivery.Task.ID)
	assert.False(t, delivery.Task.CreatedAt.IsZero())
}

func TestEnqueueRejectsEmptyProviders(t *testing.T) {
	q := New(5*time.Minute, 5)

	err := q.Enqueue(CollectionTask{ClientID: "acme"})
	assert.Error(t, err)

	_, ok := q.Dequeue()
	assert.False(t, ok)
}
