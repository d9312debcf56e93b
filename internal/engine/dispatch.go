package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// TriggerReason identifies the event that invoked the assignment handler.
type TriggerReason string

// Assignment trigger reasons.
const (
	TriggerAssignment TriggerReason = "assignment"
	TriggerUpdate     TriggerReason = "update"
	TriggerComment    TriggerReason = "comment"
	TriggerChecklist  TriggerReason = "checklist"
)

// AssignmentRequest triggers the assignment handler for a task event.
type AssignmentRequest struct {
	TaskID        string
	TeamID        string
	TriggeredBy   TriggerReason
	TriggerUserID string
}

// ExecutionRequest triggers the plan executor for an execution.
type ExecutionRequest struct {
	ExecutionID    string
	TaskID         string
	TeamID         string
	ResumeFromStep *int
}

// Job is a typed next-action request. Handlers never invoke each other
// directly; they emit jobs through a Dispatcher, which keeps every unit of
// work an independent asynchronous trigger.
type Job struct {
	Assignment *AssignmentRequest
	Execution  *ExecutionRequest

	// Delay defers the job, e.g. for retry backoff.
	Delay time.Duration
}

// Validate checks that the job carries exactly one request.
func (j Job) Validate() error {
	if (j.Assignment == nil) == (j.Execution == nil) {
		return errors.New("job must carry exactly one of assignment or execution")
	}
	return nil
}

// Dispatcher accepts jobs for asynchronous execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// QueueDispatcher is an in-process Dispatcher backed by a buffered channel
// and a pool of workers. Delayed jobs are enqueued by timer.
type QueueDispatcher struct {
	jobs   chan Job
	engine *Engine
	log    Logger

	mu      sync.Mutex
	timers  []*time.Timer
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewQueueDispatcher creates a dispatcher with the given queue capacity.
func NewQueueDispatcher(buffer int, log Logger) *QueueDispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = noopLogger{}
	}
	return &QueueDispatcher{
		jobs: make(chan Job, buffer),
		log:  log,
		done: make(chan struct{}),
	}
}

// Start binds the dispatcher to an engine and launches worker goroutines.
// The engine is bound here rather than at construction because the engine
// itself needs a Dispatcher to be built.
func (d *QueueDispatcher) Start(ctx context.Context, engine *Engine, workers int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.engine = engine
	d.started = true
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Stop drains pending timers and waits for workers to finish their current
// job. Queued jobs that have not started are dropped; the monitor sweep
// will pick the work back up.
func (d *QueueDispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	for _, t := range d.timers {
		t.Stop()
	}
	close(d.done)
	d.mu.Unlock()
	d.wg.Wait()
}

// Dispatch enqueues a job, honoring its delay.
func (d *QueueDispatcher) Dispatch(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	select {
	case <-d.done:
		return errors.New("dispatcher stopped")
	default:
	}
	if job.Delay > 0 {
		delay := job.Delay
		job.Delay = 0
		d.mu.Lock()
		timer := time.AfterFunc(delay, func() {
			select {
			case d.jobs <- job:
			case <-d.done:
			}
		})
		d.timers = append(d.timers, timer)
		d.mu.Unlock()
		return nil
	}

	select {
	case d.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return errors.New("dispatcher stopped")
	}
}

func (d *QueueDispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case job := <-d.jobs:
			d.run(ctx, job)
		}
	}
}

// SyncDispatcher runs each job inline before Dispatch returns. One-shot
// commands use it so a single sweep drains all follow-up work. Delays are
// collapsed: retry backoff only matters to a long-lived daemon.
type SyncDispatcher struct {
	engine *Engine
	log    Logger
}

// NewSyncDispatcher creates an unbound synchronous dispatcher.
func NewSyncDispatcher(log Logger) *SyncDispatcher {
	if log == nil {
		log = noopLogger{}
	}
	return &SyncDispatcher{log: log}
}

// Bind attaches the engine. Must be called before the first Dispatch.
func (d *SyncDispatcher) Bind(engine *Engine) {
	d.engine = engine
}

// Dispatch validates and runs the job immediately.
func (d *SyncDispatcher) Dispatch(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if d.engine == nil {
		return errors.New("dispatcher not bound to an engine")
	}
	runJob(ctx, d.engine, d.log, job)
	return nil
}

func (d *QueueDispatcher) run(ctx context.Context, job Job) {
	runJob(ctx, d.engine, d.log, job)
}

func runJob(ctx context.Context, engine *Engine, log Logger, job Job) {
	switch {
	case job.Assignment != nil:
		req := *job.Assignment
		result, err := engine.HandleAssignment(ctx, req)
		if err != nil {
			log.LogError(fmt.Sprintf("assignment handler task=%s: %v", req.TaskID, err))
			return
		}
		log.LogDebug(fmt.Sprintf("assignment handler task=%s outcome=%s reason=%s", req.TaskID, result.Outcome, result.Reason))
	case job.Execution != nil:
		req := *job.Execution
		result, err := engine.HandleExecution(ctx, req)
		if err != nil {
			log.LogError(fmt.Sprintf("plan executor execution=%s: %v", req.ExecutionID, err))
			return
		}
		log.LogDebug(fmt.Sprintf("plan executor execution=%s outcome=%s reason=%s", req.ExecutionID, result.Outcome, result.Reason))
	}
}
