// Package queue implements the thread-safe, priority-ordered task queue.
// Dispatch order is strict priority across levels and FIFO by creation
// time within a level.
package queue

import (
	"container/heap"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/tierq/tierq/internal/task"
	"github.com/tierq/tierq/pkg/errors"
	"github.com/tierq/tierq/pkg/types"
)

// drain order, highest first
var priorityOrder = []types.Priority{
	types.PriorityCritical,
	types.PriorityHigh,
	types.PriorityNormal,
	types.PriorityLow,
}

// Queue is the priority task queue and the registry of every task ever
// submitted in this process, so results stay readable after completion.
type Queue struct {
	mu       sync.Mutex
	maxDepth int
	tasks    map[string]*task.Task
	buckets  map[types.Priority]*taskHeap
	seq      uint64
	logger   *log.Logger
}

// New creates a queue bounded to maxDepth outstanding (non-terminal) tasks.
func New(maxDepth int, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.Default()
	}
	q := &Queue{
		maxDepth: maxDepth,
		tasks:    make(map[string]*task.Task),
		buckets:  make(map[types.Priority]*taskHeap),
		logger:   logger.With("component", "queue"),
	}
	for _, p := range priorityOrder {
		h := &taskHeap{}
		heap.Init(h)
		q.buckets[p] = h
	}
	return q
}

// Track registers a task without making it runnable. Used for
// dependency-gated tasks that still need to be awaitable.
func (q *Queue) Track(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.checkDepthLocked(); err != nil {
		return err
	}
	q.tasks[t.ID] = t
	return nil
}

// TrackTerminal registers an already-finished task so its result stays
// readable. Terminal tasks never count toward the depth bound, so the
// registration cannot be rejected.
func (q *Queue) TrackTerminal(t *task.Task) {
	q.mu.Lock()
	q.tasks[t.ID] = t
	q.mu.Unlock()
}

// Enqueue registers the task and makes it runnable. Returns ErrQueueFull
// when the outstanding-task bound is exceeded.
func (q *Queue) Enqueue(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, tracked := q.tasks[t.ID]; !tracked {
		if err := q.checkDepthLocked(); err != nil {
			q.logger.Warn("queue full, rejecting task", "task", t.ID)
			return err
		}
		q.tasks[t.ID] = t
	}

	if !t.MarkQueued() {
		return nil // already terminal, nothing to schedule
	}

	q.seq++
	heap.Push(q.buckets[t.Priority], heapItem{task: t, seq: q.seq})
	return nil
}

// Dequeue returns the highest-priority, oldest runnable task and marks it
// Running, or nil when no task is ready. Cancelled tasks are skipped.
func (q *Queue) Dequeue() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range priorityOrder {
		bucket := q.buckets[p]
		for bucket.Len() > 0 {
			item := heap.Pop(bucket).(heapItem)
			if item.task.MarkRunning() {
				return item.task
			}
			// cancelled or re-enqueued elsewhere; drop this heap entry
		}
	}
	return nil
}

// Cancel flips a Pending or Queued task to Cancelled. Running and terminal
// tasks are unaffected.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	t, ok := q.tasks[id]
	q.mu.Unlock()
	if !ok {
		return false
	}

	if t.Cancel() {
		q.logger.Info("task cancelled", "task", id)
		return true
	}
	return false
}

// Get returns the task registered under id.
func (q *Queue) Get(id string) (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	return t, ok
}

// Stats counts registered tasks by state.
func (q *Queue) Stats() types.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s types.QueueStats
	s.Total = len(q.tasks)
	for _, t := range q.tasks {
		switch t.State() {
		case types.TaskPending:
			s.Pending++
		case types.TaskQueued:
			s.Queued++
		case types.TaskRunning:
			s.Running++
		case types.TaskCompleted:
			s.Completed++
		case types.TaskFailed:
			s.Failed++
		case types.TaskCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Depth returns the number of queued (runnable, not yet running) tasks.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, t := range q.tasks {
		if t.State() == types.TaskQueued {
			n++
		}
	}
	return n
}

func (q *Queue) checkDepthLocked() error {
	outstanding := 0
	for _, t := range q.tasks {
		if !t.State().IsTerminal() {
			outstanding++
		}
	}
	if q.maxDepth > 0 && outstanding >= q.maxDepth {
		return errors.ErrQueueFull
	}
	return nil
}

// heapItem orders tasks by creation time, with an insertion sequence as a
// tie-breaker so re-enqueued retries keep a stable order.
type heapItem struct {
	task *task.Task
	seq  uint64
}

type taskHeap []heapItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.CreatedAt.Equal(h[j].task.CreatedAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].task.CreatedAt.Before(h[j].task.CreatedAt)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(heapItem))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
