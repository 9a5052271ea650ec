package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/viddl/viddl/pkg/log"
)

// RunResult is the successful outcome of one external operation.
type RunResult struct {
	OutputPath string
	Title      string
}

// Runner executes the external operation for one job. Implementations must
// never panic past this boundary and must translate tool failures into a
// returned error with a human-readable reason. The progress sink may be
// invoked zero or more times with values in [0,100]; callers are free to
// coalesce what they observe.
type Runner interface {
	Run(ctx context.Context, job *Job, progress func(int)) (RunResult, error)
}

// progressStep is the throttle on stored progress updates: a callback value
// is written only when it advances at least this far past the last stored
// value, or reaches 100.
const progressStep = 5

// Queue dispatches pending jobs to a bounded set of workers in submission
// order and writes every state change back through the Store. With one
// worker (the default) at most one job is ever processing.
type Queue struct {
	workerCount int
	store       Store
	runner      Runner

	mu      sync.Mutex
	claimed map[string]struct{}
	cancels map[string]context.CancelFunc
	started bool

	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewQueue(workerCount int, store Store) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Queue{
		workerCount: workerCount,
		store:       store,
		claimed:     make(map[string]struct{}),
		cancels:     make(map[string]context.CancelFunc),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
}

// Submit creates the job record and appends it to the pending list. It never
// blocks on in-flight work.
func (q *Queue) Submit(spec NewJob) (*Job, error) {
	job, err := q.store.Create(spec)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	started := q.started
	q.mu.Unlock()

	if started {
		q.enqueuePendingID(job.ID)
	}
	log.Info("Job %s submitted (kind=%s)", job.ID, job.Kind)
	return job, nil
}

// Start launches the workers. Pending jobs already in the store, such as
// records hydrated from a durable store after a restart, are requeued in
// creation order; interrupted processing jobs go back to pending first.
func (q *Queue) Start(runner Runner) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.runner = runner
	q.mu.Unlock()

	existing, err := q.store.List()
	if err != nil {
		log.Error("Failed to list jobs on queue start: %v", err)
		existing = nil
	}
	for _, job := range existing {
		if job.Status == StatusProcessing {
			if err := q.store.SetStatus(job.ID, StatusPending, -1); err != nil {
				log.Warn("Failed to requeue interrupted job %s: %v", job.ID, err)
				continue
			}
			job.Status = StatusPending
		}
		if job.Status == StatusPending {
			q.enqueuePendingID(job.ID)
		}
	}

	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.wg.Wait()
	})
}

// Depth reports how many jobs are waiting for a worker.
func (q *Queue) Depth() int {
	return len(q.pendingIDs)
}

// Cancel aborts a job. A pending job fails immediately; a processing job has
// its context cancelled, which tears down the external tool and surfaces as
// a failed job with a cancelled reason.
func (q *Queue) Cancel(id string) error {
	job, err := q.store.Get(id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}

	q.mu.Lock()
	cancel, running := q.cancels[id]
	q.mu.Unlock()

	if running {
		cancel()
		return nil
	}
	return q.store.SetError(id, "cancelled")
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pendingIDs:
			q.runJob(id)
		}
	}
}

func (q *Queue) runJob(id string) {
	if !q.claim(id) {
		return
	}
	// A job that is no longer pending (cancelled, or deleted by the reaper)
	// is skipped here rather than escalated.
	if err := q.store.SetStatus(id, StatusProcessing, 0); err != nil {
		log.Warn("Skipping job %s: %v", id, err)
		return
	}
	job, err := q.store.Get(id)
	if err != nil {
		log.Warn("Job %s vanished before dispatch: %v", id, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.mu.Lock()
	q.cancels[id] = cancel
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.cancels, id)
		q.mu.Unlock()
		cancel()
	}()

	log.Info("Processing job %s (kind=%s input=%s)", id, job.Kind, job.Input)

	result, err := q.invokeRunner(ctx, job)
	if err != nil {
		reason := err.Error()
		if ctx.Err() == context.Canceled {
			reason = "cancelled"
		}
		q.markFailed(id, reason)
		return
	}
	q.markCompleted(id, result)
}

// invokeRunner shields the dispatch loop from runner panics.
func (q *Queue) invokeRunner(ctx context.Context, job *Job) (result RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return q.runner.Run(ctx, job, q.progressSink(job.ID))
}

// progressSink throttles a runner's progress callbacks before they reach the
// store. The terminal write after the runner returns always happens-after
// anything written here.
func (q *Queue) progressSink(id string) func(int) {
	var mu sync.Mutex
	last := -1
	return func(p int) {
		p = clampProgress(p)

		mu.Lock()
		if last >= 0 && p != 100 && p < last+progressStep {
			mu.Unlock()
			return
		}
		last = p
		mu.Unlock()

		if err := q.store.SetProgress(id, p); err != nil {
			log.Debug("Dropping progress update for job %s: %v", id, err)
		}
	}
}

func (q *Queue) markCompleted(id string, result RunResult) {
	if result.Title != "" {
		if err := q.store.SetTitle(id, result.Title); err != nil {
			log.Warn("Failed to record title for job %s: %v", id, err)
			return
		}
	}
	if err := q.store.SetOutput(id, result.OutputPath); err != nil {
		log.Warn("Failed to record output for job %s: %v", id, err)
		return
	}
	if err := q.store.SetDownloadURL(id, "/api/jobs/"+id+"/file"); err != nil {
		log.Warn("Failed to record download URL for job %s: %v", id, err)
		return
	}
	if err := q.store.SetStatus(id, StatusCompleted, 100); err != nil {
		log.Warn("Failed to complete job %s: %v", id, err)
		return
	}
	log.Info("Job %s completed: %s", id, result.OutputPath)
}

func (q *Queue) markFailed(id, reason string) {
	if err := q.store.SetError(id, reason); err != nil {
		log.Warn("Failed to record error for job %s: %v", id, err)
		return
	}
	log.Error("Job %s failed: %s", id, reason)
}

// claim guarantees a job id is executed at most once even if it was queued
// twice across a Start/Submit race.
func (q *Queue) claim(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.claimed[id]; ok {
		return false
	}
	q.claimed[id] = struct{}{}
	return true
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() { q.pendingIDs <- id }()
	}
}
