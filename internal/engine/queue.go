package engine

import (
	"hash/fnv"
	"sync"

	"github.com/tidefall/reflex/internal/events"
	"github.com/tidefall/reflex/internal/facts"
	"github.com/tidefall/reflex/internal/temporal"
	"github.com/tidefall/reflex/internal/timers"
)

type jobKind int

const (
	jobEvent jobKind = iota + 1
	jobFactChange
	jobTimer
	jobTemporal
)

// job is one unit of work on the processing queue.
type job struct {
	kind          jobKind
	event         *events.Event
	change        facts.Change
	timer         timers.Timer
	firing        *temporal.Firing
	correlationID string
	chainDepth    int
}

// jobQueue is a mutex-guarded FIFO with a coalescing signal channel.
//
// Unbounded so cascading rule firings can enqueue arbitrarily many
// follow-up jobs without blocking the worker that produces them. The
// signal channel (buffer 1) lets the worker wait without spinning and
// wakes immediately when the queue closes.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]job, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// enqueue appends a job. Returns false if the queue is closed.
func (q *jobQueue) enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue pops the front job without blocking.
func (q *jobQueue) tryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return job{}, false
	}
	j := q.jobs[0]
	// Nil out the slot so the backing array releases the job's pointers.
	q.jobs[0] = job{}
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

func (q *jobQueue) wait() <-chan struct{} { return q.signal }

func (q *jobQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// shardFor maps a correlation id to a worker shard. All jobs of one
// correlation land on the same shard, which is what preserves FIFO
// ordering per correlation while unrelated correlations run in parallel.
func shardFor(correlationID string, shards int) int {
	if shards == 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(correlationID))
	return int(h.Sum32() % uint32(shards))
}
