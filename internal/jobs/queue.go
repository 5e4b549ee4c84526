package jobs

import (
	"container/heap"
	"sync"
	"time"

	"github.com/madfam-io/penny/pkg/models"
)

// pqEntry wraps an ExecutionJob with the bookkeeping container/heap needs:
// a monotonic sequence number to break priority ties FIFO (spec.md §4.9:
// "ties break by enqueue time"), and a heap index maintained by container/heap.
type pqEntry struct {
	job   *models.ExecutionJob
	seq   uint64
	index int
}

// priorityHeap is a container/heap.Interface ordering by (priority desc,
// seq asc) — higher priority first, earlier enqueue first among equals.
type priorityHeap []*pqEntry

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	entry := x.(*pqEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// PriorityQueue is a bounded, priority-ordered queue of ExecutionJobs with
// FIFO tie-break, implementing the queue half of spec.md §4.9. Jobs whose
// NextAttemptAt is in the future are held back from Pop until it elapses,
// supporting retry backoff without a separate delay-queue structure.
type PriorityQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	heap     priorityHeap
	byID     map[string]*pqEntry
	nextSeq  uint64
	capacity int
	closed   bool
}

// NewPriorityQueue creates a queue bounded at capacity entries. capacity <= 0
// means unbounded.
func NewPriorityQueue(capacity int) *PriorityQueue {
	q := &PriorityQueue{
		byID:     make(map[string]*pqEntry),
		capacity: capacity,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// ErrQueueFull is returned by Push when the queue is at capacity.
type ErrQueueFull struct{}

func (ErrQueueFull) Error() string { return "job queue full" }

// ErrQueueClosed is returned once the queue has been shut down.
type ErrQueueClosed struct{}

func (ErrQueueClosed) Error() string { return "job queue closed" }

// Push admits a job for scheduling. Returns ErrQueueFull if the queue is at
// capacity, ErrQueueClosed if shutting down.
func (q *PriorityQueue) Push(job *models.ExecutionJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed{}
	}
	if q.capacity > 0 && len(q.heap) >= q.capacity {
		return ErrQueueFull{}
	}

	job.Status = models.JobQueued
	entry := &pqEntry{job: job, seq: q.nextSeq}
	q.nextSeq++
	heap.Push(&q.heap, entry)
	q.byID[job.JobID] = entry
	q.notEmpty.Signal()
	return nil
}

// Pop blocks until a ready job (NextAttemptAt elapsed) is available or the
// queue closes, in which case ok is false. Jobs not yet ready are skipped
// and re-checked on the next wake; callers in a tight retry loop should rely
// on the scheduler's wake-on-push rather than spin.
func (q *PriorityQueue) Pop() (job *models.ExecutionJob, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed && len(q.heap) == 0 {
			return nil, false
		}
		if idx := q.readyIndexLocked(); idx >= 0 {
			entry := heap.Remove(&q.heap, idx).(*pqEntry)
			delete(q.byID, entry.job.JobID)
			return entry.job, true
		}
		if q.closed {
			return nil, false
		}
		q.notEmpty.Wait()
	}
}

// readyIndexLocked scans for the highest-priority job whose backoff has
// elapsed. Must be called with q.mu held.
func (q *PriorityQueue) readyIndexLocked() int {
	if len(q.heap) == 0 {
		return -1
	}
	now := time.Now()
	best := -1
	for i, entry := range q.heap {
		if !entry.job.Ready(now) {
			continue
		}
		if best == -1 || q.heap.Less(i, best) {
			best = i
		}
	}
	return best
}

// Cancel transitions a still-queued job to CANCELLED and removes it,
// synchronously, per spec.md §4.9. Returns false if the job is not queued
// (already running or unknown — cancellation of a running job is the
// Scheduler's responsibility via context).
func (q *PriorityQueue) Cancel(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.byID[jobID]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, entry.index)
	delete(q.byID, jobID)
	entry.job.Status = models.JobCancelled
	return true
}

// Len returns the number of queued (not yet dequeued) jobs.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Close shuts the queue down; blocked Pop calls return ok=false once the
// heap drains.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
