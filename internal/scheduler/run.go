package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskweave/taskweave/internal/events"
	"github.com/taskweave/taskweave/internal/resilience"
	"github.com/taskweave/taskweave/internal/resolver"
	"github.com/taskweave/taskweave/internal/workflow"
)

// taskOutcome is what a dispatch goroutine reports back to the run loop.
type taskOutcome struct {
	taskID    string
	result    map[string]any
	err       error
	recovered bool
}

// run is the mutable state of one workflow execution. The run loop goroutine
// exclusively owns task status transitions and the shared workflow context;
// dispatch goroutines only execute and report.
type run struct {
	id       string
	def      *workflow.Definition
	sched    *Scheduler
	wctx     *workflow.Context
	cancelFn context.CancelFunc
	done     chan struct{}

	mu        sync.Mutex
	tasks     map[string]*workflow.Task
	order     []string // Definition order, for deterministic tie-breaks
	status    workflow.Status
	detail    error // Workflow-level fatal detail, e.g. *workflow.StalledError
	recovered map[string]bool
	cancelled bool
	startedAt time.Time
	endedAt   time.Time
}

func newRun(id string, def *workflow.Definition, s *Scheduler) *run {
	tasks := make(map[string]*workflow.Task, len(def.Tasks))
	order := make([]string, 0, len(def.Tasks))
	for _, t := range def.Tasks {
		task := t.Clone()
		task.Status = workflow.TaskPending
		tasks[task.ID] = task
		order = append(order, task.ID)
	}

	return &run{
		id:        id,
		def:       def,
		sched:     s,
		wctx:      workflow.NewContext(def.Context),
		done:      make(chan struct{}),
		tasks:     tasks,
		order:     order,
		status:    workflow.StatusCreated,
		recovered: make(map[string]bool),
	}
}

// loop drives the run until terminal. It suspends only while waiting for at
// least one active dispatch to finish, waking on the FIRST completion so
// newly-readied tasks start without waiting for the rest of the wave.
func (r *run) loop(ctx context.Context) {
	// Terminal cleanup, innermost first: release the context registration,
	// drop the run from the scheduler's registry, then wake waiters.
	defer close(r.done)
	defer r.sched.forget(r.id)
	defer r.cancelFn()

	r.mu.Lock()
	r.status = workflow.StatusRunning
	r.startedAt = time.Now()
	r.mu.Unlock()

	// Buffered to the task count so a dispatch can always deliver its
	// outcome, even if the loop has already moved to the cancel path.
	ch := make(chan taskOutcome, len(r.tasks))
	active := 0

	for {
		if r.isCancelled() || ctx.Err() != nil {
			r.drainCancelled(ch, active)
			return
		}

		for _, task := range r.readyTasks() {
			r.markRunning(task.ID)
			active++
			go r.dispatch(ctx, task, ch)
		}

		if active == 0 {
			// Nothing running and nothing became ready: the run is either
			// finished or stalled behind a failed dependency.
			r.finish()
			return
		}

		select {
		case out := <-ch:
			active--
			r.apply(out)
		case <-ctx.Done():
			r.drainCancelled(ch, active)
			return
		}
	}
}

// readyTasks returns pending tasks whose dependencies are all completed,
// ordered by priority (higher first) then definition order. The ordering
// only stabilises logs; ready tasks dispatch concurrently regardless.
func (r *run) readyTasks() []*workflow.Task {
	completed := r.wctx.CompletedIDs()

	r.mu.Lock()
	defer r.mu.Unlock()

	var ready []*workflow.Task
	for _, id := range r.order {
		task := r.tasks[id]
		if task.Status != workflow.TaskPending {
			continue
		}
		if task.Ready(completed) {
			ready = append(ready, task.Clone())
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority > ready[j].Priority
	})
	return ready
}

func (r *run) markRunning(taskID string) {
	r.mu.Lock()
	task := r.tasks[taskID]
	task.Status = workflow.TaskRunning
	task.StartedAt = time.Now()
	agent, kind := task.Agent, task.Kind
	r.mu.Unlock()

	r.sched.logger.Info("task started", "run", r.id, "task", taskID, "agent", agent)
	r.sched.emit(events.TaskStartedEvent{
		WorkflowID: r.def.ID,
		ID:         taskID,
		Agent:      agent,
		Kind:       string(kind),
		Timestamp:  time.Now(),
	})
}

// dispatch executes one task: resolve input against the current context,
// then invoke the gateway through the error handler. Runs on its own
// goroutine; the semaphore bounds engine-wide concurrency.
func (r *run) dispatch(ctx context.Context, task *workflow.Task, ch chan<- taskOutcome) {
	if err := r.sched.sem.Acquire(ctx, 1); err != nil {
		ch <- taskOutcome{taskID: task.ID, err: err}
		return
	}
	defer r.sched.sem.Release(1)

	// Referenced tasks are always dependencies, so their results are in the
	// context before this point.
	resolved := resolver.Resolve(task.Input, r.wctx)

	var fallback resilience.Operation
	if r.sched.fallback != nil {
		fallback = func(ctx context.Context) (map[string]any, error) {
			return r.sched.fallback.Invoke(ctx, task.Agent, task.Kind, resolved)
		}
	}

	outcome := r.sched.handler.Execute(ctx, task.Agent, task.ID, func(ctx context.Context) (map[string]any, error) {
		return r.sched.gateway.Invoke(ctx, task.Agent, task.Kind, resolved)
	}, fallback)

	ch <- taskOutcome{
		taskID:    task.ID,
		result:    outcome.Result,
		err:       outcome.Err,
		recovered: outcome.Recovered,
	}
}

// apply records a dispatch outcome: exactly one terminal transition per task,
// and on success exactly one context write keyed by the task's unique ID.
func (r *run) apply(out taskOutcome) {
	r.mu.Lock()
	task := r.tasks[out.taskID]
	task.EndedAt = time.Now()

	if out.err != nil {
		task.Status = workflow.TaskFailed
		task.Err = out.err
		duration := task.Duration()
		agent := task.Agent
		r.mu.Unlock()

		r.sched.logger.Error("task failed", "run", r.id, "task", out.taskID, "agent", agent, "err", out.err)
		r.sched.emit(events.TaskFailedEvent{
			WorkflowID: r.def.ID,
			ID:         out.taskID,
			Agent:      agent,
			Err:        out.err,
			Duration:   duration,
			Timestamp:  time.Now(),
		})
		return
	}

	task.Status = workflow.TaskCompleted
	task.Result = out.result
	r.recovered[out.taskID] = out.recovered
	duration := task.Duration()
	agent := task.Agent
	r.mu.Unlock()

	r.wctx.SetResult(out.taskID, out.result)

	r.sched.logger.Info("task completed", "run", r.id, "task", out.taskID, "agent", agent, "recovered", out.recovered)
	r.sched.emit(events.TaskCompletedEvent{
		WorkflowID: r.def.ID,
		ID:         out.taskID,
		Agent:      agent,
		Recovered:  out.recovered,
		Duration:   duration,
		Timestamp:  time.Now(),
	})
}

// finish moves the run to its terminal status once nothing is active.
// Completed only if every task completed; pending leftovers mean an upstream
// failure broke their dependency chain, so the run is partially failed and
// the stall is reported rather than looping forever.
func (r *run) finish() {
	r.mu.Lock()
	completed, failed, pending := 0, 0, 0
	var pendingIDs []string
	for _, id := range r.order {
		switch r.tasks[id].Status {
		case workflow.TaskCompleted:
			completed++
		case workflow.TaskFailed:
			failed++
		case workflow.TaskPending:
			pending++
			pendingIDs = append(pendingIDs, id)
		}
	}

	if failed == 0 && pending == 0 {
		r.status = workflow.StatusCompleted
	} else {
		r.status = workflow.StatusPartiallyFailed
	}
	if pending > 0 {
		r.detail = &workflow.StalledError{WorkflowID: r.def.ID, PendingIDs: pendingIDs}
	}
	r.endedAt = time.Now()
	status := r.status
	duration := r.endedAt.Sub(r.startedAt)
	r.mu.Unlock()

	r.sched.logger.Info("workflow finished",
		"run", r.id,
		"workflow", r.def.ID,
		"status", status.String(),
		"completed", completed,
		"failed", failed,
		"pending", pending,
	)
	r.sched.emit(events.WorkflowCompletedEvent{
		WorkflowID: r.def.ID,
		Status:     status.String(),
		Completed:  completed,
		Failed:     failed,
		Pending:    pending,
		Duration:   duration,
		Timestamp:  time.Now(),
	})
}

// requestCancel flips the run into cancellation. Idempotent; a no-op once
// the run is terminal.
func (r *run) requestCancel() {
	r.mu.Lock()
	if r.cancelled || r.status.Terminal() {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	r.mu.Unlock()

	r.sched.emit(events.WorkflowCancelledEvent{WorkflowID: r.def.ID, Timestamp: time.Now()})
	if r.cancelFn != nil {
		r.cancelFn()
	}
}

func (r *run) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// drainCancelled waits for in-flight dispatches, discarding their results:
// each active task is marked failed with a CancelledError regardless of what
// its agent eventually returned. Pending tasks are never dispatched and stay
// pending in the final breakdown.
func (r *run) drainCancelled(ch <-chan taskOutcome, active int) {
	for active > 0 {
		out := <-ch
		active--

		r.mu.Lock()
		task := r.tasks[out.taskID]
		task.Status = workflow.TaskFailed
		task.Err = &workflow.CancelledError{WorkflowID: r.def.ID, TaskID: out.taskID}
		task.EndedAt = time.Now()
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.status = workflow.StatusCancelled
	r.detail = nil
	r.endedAt = time.Now()
	if r.startedAt.IsZero() {
		r.startedAt = r.endedAt
	}
	duration := r.endedAt.Sub(r.startedAt)
	completed, failed, pending := 0, 0, 0
	for _, task := range r.tasks {
		switch task.Status {
		case workflow.TaskCompleted:
			completed++
		case workflow.TaskFailed:
			failed++
		case workflow.TaskPending:
			pending++
		}
	}
	r.mu.Unlock()

	r.sched.logger.Info("workflow cancelled", "run", r.id, "workflow", r.def.ID)
	r.sched.emit(events.WorkflowCompletedEvent{
		WorkflowID: r.def.ID,
		Status:     workflow.StatusCancelled.String(),
		Completed:  completed,
		Failed:     failed,
		Pending:    pending,
		Duration:   duration,
		Timestamp:  time.Now(),
	})
}
