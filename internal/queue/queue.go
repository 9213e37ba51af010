package queue

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"costshub/internal/clock"
	"costshub/internal/costmodel"
	"costshub/internal/logging"
	"costshub/internal/monitoring"

	"github.com/google/uuid"
)

// Priority selects the lane a task is delivered from. Higher lanes are always
// drained before lower ones.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// lanes in drain order
var laneOrder = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// ParsePriority converts a case-insensitive priority name.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToUpper(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityNormal:
		return PriorityNormal, nil
	case PriorityLow:
		return PriorityLow, nil
	}
	return "", fmt.Errorf("invalid priority: %q", s)
}

// CollectionTask is one unit of collection work: one client, one date range,
// one or more providers.
type CollectionTask struct {
	ID        string               `json:"id"`
	ClientID  string               `json:"client_id"`
	Start     time.Time            `json:"start"`
	End       time.Time            `json:"end"`
	Providers []costmodel.Provider `json:"providers"`
	Priority  Priority             `json:"priority"`
	Attempts  int                  `json:"attempts"`
	CreatedAt time.Time            `json:"created_at"`
}

// NewTask creates a CollectionTask with a fresh id.
func NewTask(clientID string, start, end time.Time, providers []costmodel.Provider, priority Priority) CollectionTask {
	return CollectionTask{
		ID:        uuid.New().String(),
		ClientID:  clientID,
		Start:     start,
		End:       end,
		Providers: providers,
		Priority:  priority,
	}
}

// Delivery is a dequeued task plus the receipt needed to Ack or Nack it.
type Delivery struct {
	Task    CollectionTask
	Receipt string
}

type inflightEntry struct {
	task      CollectionTask
	expiresAt time.Time
}

// Queue is an in-process priority queue with visibility-timeout redelivery.
// Dequeued tasks stay invisible until acknowledged; if the visibility window
// lapses without an Ack the task is redelivered, or dead-lettered once its
// attempt budget is spent.
type Queue struct {
	mu sync.Mutex

	lanes    map[Priority][]CollectionTask
	inflight map[string]*inflightEntry
	dead     []CollectionTask

	visibility  time.Duration
	maxAttempts int
	maxDepth    int // 0 means unbounded

	clk  clock.Clock
	sink monitoring.Sink
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(q *Queue) { q.clk = clk }
}

// WithSink sets the metrics sink.
func WithSink(sink monitoring.Sink) Option {
	return func(q *Queue) { q.sink = sink }
}

// WithMaxDepth bounds the total number of waiting tasks across all lanes.
// Enqueue fails once the bound is reached.
func WithMaxDepth(n int) Option {
	return func(q *Queue) { q.maxDepth = n }
}

// New creates a Queue. visibility is how long a delivered task may go
// unacknowledged before redelivery; maxAttempts is the total delivery budget
// before a task is dead-lettered.
func New(visibility time.Duration, maxAttempts int, opts ...Option) *Queue {
	q := &Queue{
		lanes:       make(map[Priority][]CollectionTask),
		inflight:    make(map[string]*inflightEntry),
		visibility:  visibility,
		maxAttempts: maxAttempts,
		clk:         clock.RealClock{},
		sink:        monitoring.NopSink{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a task to its priority lane. Tasks with an unset priority go
// to the NORMAL lane. A task must name at least one provider; there is
// nothing to collect otherwise.
func (q *Queue) Enqueue(task CollectionTask) error {
	if len(task.Providers) == 0 {
		return fmt.Errorf("task for client %s has no providers", task.ClientID)
	}
	if task.Priority == "" {
		task.Priority = PriorityNormal
	}
	if _, err := ParsePriority(string(task.Priority)); err != nil {
		return err
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = q.clk.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxDepth > 0 && q.waitingLocked() >= q.maxDepth {
		q.sink.IncCounter("costshub_queue_rejected_total", map[string]string{
			"priority": string(task.Priority),
		})
		return fmt.Errorf("queue is full (depth %d)", q.maxDepth)
	}

	q.lanes[task.Priority] = append(q.lanes[task.Priority], task)
	q.sink.IncCounter("costshub_queue_enqueued_total", map[string]string{
		"priority": string(task.Priority),
	})
	return nil
}

// Dequeue returns the next visible task, draining HIGH before NORMAL before
// LOW, or ok=false when nothing is waiting. The delivered task's attempt
// count includes this delivery, and the task stays invisible until Ack,
// Nack, or visibility expiry.
func (q *Queue) Dequeue() (Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sweepExpiredLocked()

	for _, lane := range laneOrder {
		if len(q.lanes[lane]) == 0 {
			continue
		}
		task := q.lanes[lane][0]
		q.lanes[lane] = q.lanes[lane][1:]

		task.Attempts++
		receipt := uuid.New().String()
		q.inflight[receipt] = &inflightEntry{
			task:      task,
			expiresAt: q.clk.Now().Add(q.visibility),
		}
		q.sink.IncCounter("costshub_queue_delivered_total", map[string]string{
			"priority": string(lane),
		})
		return Delivery{Task: task, Receipt: receipt}, true
	}
	return Delivery{}, false
}

// Ack marks a delivered task finished and removes it from the queue.
func (q *Queue) Ack(receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inflight[receipt]; !ok {
		return fmt.Errorf("unknown or expired receipt: %s", receipt)
	}
	delete(q.inflight, receipt)
	return nil
}

// Nack returns a delivered task to its lane immediately, or dead-letters it
// when its attempt budget is spent.
func (q *Queue) Nack(receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.inflight[receipt]
	if !ok {
		return fmt.Errorf("unknown or expired receipt: %s", receipt)
	}
	delete(q.inflight, receipt)
	q.requeueOrDeadLetterLocked(entry.task, "nack")
	return nil
}

// sweepExpiredLocked redelivers or dead-letters tasks whose visibility window
// has lapsed. Callers hold q.mu.
func (q *Queue) sweepExpiredLocked() {
	now := q.clk.Now()
	for receipt, entry := range q.inflight {
		if entry.expiresAt.After(now) {
			continue
		}
		delete(q.inflight, receipt)
		logging.Warn("Task visibility expired", map[string]interface{}{
			"task_id":   entry.task.ID,
			"client_id": entry.task.ClientID,
			"attempts":  entry.task.Attempts,
		})
		q.requeueOrDeadLetterLocked(entry.task, "visibility_expired")
	}
}

func (q *Queue) requeueOrDeadLetterLocked(task CollectionTask, reason string) {
	if task.Attempts >= q.maxAttempts {
		q.dead = append(q.dead, task)
		q.sink.IncCounter("costshub_queue_dead_lettered_total", map[string]string{
			"priority": string(task.Priority),
			"reason":   reason,
		})
		logging.Error("Task dead-lettered", nil, map[string]interface{}{
			"task_id":   task.ID,
			"client_id": task.ClientID,
			"attempts":  task.Attempts,
			"reason":    reason,
		})
		return
	}
	// Requeued tasks go to the front of their lane so a struggling task is
	// retried before newer work at the same priority.
	q.lanes[task.Priority] = append([]CollectionTask{task}, q.lanes[task.Priority]...)
}

// DeadLetters returns a copy of the dead-letter list.
func (q *Queue) DeadLetters() []CollectionTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]CollectionTask, len(q.dead))
	copy(out, q.dead)
	return out
}

// RedriveDeadLetters moves all dead-lettered tasks back to their lanes with a
// reset attempt count. Returns the number of tasks redriven.
func (q *Queue) RedriveDeadLetters() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.dead)
	for _, task := range q.dead {
		task.Attempts = 0
		q.lanes[task.Priority] = append(q.lanes[task.Priority], task)
	}
	q.dead = nil
	return n
}

// Lengths reports the waiting depth of each lane plus inflight and
// dead-letter counts, and pushes them as gauges.
func (q *Queue) Lengths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sweepExpiredLocked()

	out := map[string]int{
		"inflight": len(q.inflight),
		"dead":     len(q.dead),
	}
	for _, lane := range laneOrder {
		out[string(lane)] = len(q.lanes[lane])
		q.sink.SetGauge("costshub_queue_depth", float64(len(q.lanes[lane])), map[string]string{
			"priority": string(lane),
		})
	}
	return out
}

func (q *Queue) waitingLocked() int {
	n := 0
	for _, lane := range laneOrder {
		n += len(q.lanes[lane])
	}
	return n
}
