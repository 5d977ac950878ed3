// Package task defines the schedulable unit of work and its state machine.
// The scheduler is the only writer of state transitions; callers observe
// state and wait on the done channel.
package task

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tierq/tierq/pkg/types"
)

// Task is a single submitted unit of work.
//
// State machine: Pending -> Queued -> Running -> {Completed|Failed|Cancelled}.
// Cancelled is reachable only from Pending and Queued. Terminal states are
// final and close the done channel exactly once.
type Task struct {
	ID           string
	Fn           types.TaskFunc
	Priority     types.Priority
	Affinity     types.Affinity
	Timeout      time.Duration
	MaxRetries   int
	Dependencies []string
	Metadata     map[string]string
	CacheKey     string
	CreatedAt    time.Time

	mu         sync.Mutex
	state      types.TaskState
	attempts   int
	startedAt  time.Time
	finishedAt time.Time
	result     interface{}
	err        error
	done       chan struct{}
}

// Options carries the submission parameters for a new task.
type Options struct {
	Priority     types.Priority
	Affinity     types.Affinity
	Timeout      time.Duration
	MaxRetries   int
	Dependencies []string
	Metadata     map[string]string
	CacheKey     string
}

// New creates a Pending task with a generated id.
func New(fn types.TaskFunc, opts Options) *Task {
	if opts.Priority < types.PriorityLow || opts.Priority > types.PriorityCritical {
		opts.Priority = types.PriorityNormal
	}
	if opts.Affinity == "" {
		opts.Affinity = types.AffinityGeneral
	}

	return &Task{
		ID:           uuid.NewString(),
		Fn:           fn,
		Priority:     opts.Priority,
		Affinity:     opts.Affinity,
		Timeout:      opts.Timeout,
		MaxRetries:   opts.MaxRetries,
		Dependencies: opts.Dependencies,
		Metadata:     opts.Metadata,
		CacheKey:     opts.CacheKey,
		CreatedAt:    time.Now(),
		state:        types.TaskPending,
		done:         make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (t *Task) State() types.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Result returns the outcome of a terminal task.
func (t *Task) Result() (interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Attempts returns how many executions have started.
func (t *Task) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// StartedAt returns the most recent execution start time.
func (t *Task) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

// FinishedAt returns the terminal transition time.
func (t *Task) FinishedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishedAt
}

// MarkQueued moves a Pending or retried task into the queue. Returns false
// if the task is already terminal.
func (t *Task) MarkQueued() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsTerminal() || t.state == types.TaskRunning {
		return false
	}
	t.state = types.TaskQueued
	return true
}

// MarkRunning records the start of an execution attempt. Returns false if
// the task is no longer Queued (e.g. cancelled while waiting).
func (t *Task) MarkRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != types.TaskQueued {
		return false
	}
	t.state = types.TaskRunning
	t.attempts++
	t.startedAt = time.Now()
	return true
}

// MarkPendingRetry parks a failed attempt for backoff re-enqueue.
func (t *Task) MarkPendingRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsTerminal() {
		return
	}
	t.state = types.TaskPending
}

// MarkNotDispatched undoes MarkRunning for a task that never reached a
// worker. The state returns to Pending and the attempt is uncounted, so a
// lost worker claim does not consume a retry.
func (t *Task) MarkNotDispatched() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != types.TaskRunning {
		return
	}
	t.state = types.TaskPending
	if t.attempts > 0 {
		t.attempts--
	}
}

// Complete finishes the task successfully.
func (t *Task) Complete(result interface{}) {
	t.finish(types.TaskCompleted, result, nil)
}

// Fail finishes the task with an error.
func (t *Task) Fail(err error) {
	t.finish(types.TaskFailed, nil, err)
}

// Cancel moves a Pending or Queued task to Cancelled. A Running task cannot
// be cancelled retroactively.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	if t.state != types.TaskPending && t.state != types.TaskQueued {
		t.mu.Unlock()
		return false
	}
	t.state = types.TaskCancelled
	t.finishedAt = time.Now()
	t.mu.Unlock()

	close(t.done)
	return true
}

func (t *Task) finish(state types.TaskState, result interface{}, err error) {
	t.mu.Lock()
	if t.state.IsTerminal() {
		t.mu.Unlock()
		return
	}
	t.state = state
	t.result = result
	t.err = err
	t.finishedAt = time.Now()
	t.mu.Unlock()

	close(t.done)
}
