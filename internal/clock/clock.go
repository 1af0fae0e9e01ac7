// Package clock implements the simulator's virtual-time scheduler: a
// monotonic millisecond clock and a priority queue of pending tasks, ordered
// by (execution time, insertion order).
package clock

import (
	"github.com/emirpasic/gods/queues/priorityqueue"
	"github.com/emirpasic/gods/utils"
)

// Task is anything that can be scheduled on the clock. Execute runs at the
// task's scheduled virtual time; Cancel tombstones it so a later dequeue is a
// no-op.
type Task interface {
	Execute()
	Cancel()
	Cancelled() bool
}

// entry is the internal (task, time, sequence) triple stored in the queue.
// Ordering is by executionTime first, then by seq, giving FIFO semantics for
// events scheduled at the same virtual time.
type entry struct {
	task          Task
	executionTime int64
	seq           uint64
}

func compare(a, b interface{}) int {
	ea, eb := a.(entry), b.(entry)
	switch {
	case ea.executionTime < eb.executionTime:
		return -1
	case ea.executionTime > eb.executionTime:
		return 1
	case ea.seq < eb.seq:
		return -1
	case ea.seq > eb.seq:
		return 1
	default:
		return 0
	}
}

// Clock is the single global (per-simulation) virtual-time scheduler. It is
// not safe for concurrent use: the whole point of a discrete-event simulator
// is that there is exactly one thread of control.
type Clock struct {
	currentTime int64
	nextSeq     uint64
	queue       *priorityqueue.Queue
}

// New returns a Clock starting at virtual time zero.
func New() *Clock {
	return &Clock{
		queue: priorityqueue.NewWith(compare),
	}
}

// Now returns the current virtual time in milliseconds.
func (c *Clock) Now() int64 {
	return c.currentTime
}

// Schedule inserts task so that it executes at currentTime+delayMs. delayMs
// must be >= 0; the scheduler never runs tasks in the past.
func (c *Clock) Schedule(task Task, delayMs int64) {
	c.nextSeq++
	c.queue.Enqueue(entry{
		task:          task,
		executionTime: c.currentTime + delayMs,
		seq:           c.nextSeq,
	})
}

// Len reports the number of tasks currently pending, including tombstoned
// ones not yet reaped.
func (c *Clock) Len() int {
	return c.queue.Size()
}

// RunNext pops and runs the earliest pending task, skipping any that were
// cancelled after being scheduled. It advances currentTime to the popped
// task's execution time. It reports whether a task was run.
func (c *Clock) RunNext() bool {
	for {
		raw, ok := c.queue.Dequeue()
		if !ok {
			return false
		}
		e := raw.(entry)
		c.currentTime = e.executionTime
		if e.task.Cancelled() {
			continue
		}
		e.task.Execute()
		return true
	}
}

// ensure utils is referenced; gods' priorityqueue.NewWith only needs a
// comparator, but utils.Comparator is the documented type for it.
var _ utils.Comparator = compare
