// Package scheduler is the coordination core: it validates a workflow
// definition, tracks task state, dispatches ready tasks concurrently through
// the gateway wrapped by the error handler, and propagates results between
// dependent tasks until the run reaches a terminal status.
package scheduler

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/taskweave/taskweave/internal/events"
	"github.com/taskweave/taskweave/internal/gateway"
	"github.com/taskweave/taskweave/internal/resilience"
	"github.com/taskweave/taskweave/internal/workflow"
)

// Config configures a Scheduler.
type Config struct {
	// ConcurrencyLimit bounds how many task invocations may be in flight at
	// once across all runs. Defaults to 8.
	ConcurrencyLimit int64

	// Fallback, when non-nil, is the alternative invoker tried after the
	// primary gateway's retry budget is exhausted. Results it produces are
	// tagged Recovered=true so callers can tell degraded success from a
	// clean first-attempt success.
	Fallback gateway.Invoker
}

// Scheduler owns workflow runs. Transport lifecycle belongs to the caller:
// the gateway is injected at construction, never global state.
type Scheduler struct {
	gateway  gateway.Invoker
	fallback gateway.Invoker
	handler  *resilience.Handler
	bus      *events.Bus
	logger   *log.Logger
	sem      *semaphore.Weighted

	mu   sync.Mutex
	runs map[string]*run
}

// New creates a Scheduler. bus may be nil when no observability sink is
// attached; handler must not be nil.
func New(gw gateway.Invoker, handler *resilience.Handler, bus *events.Bus, logger *log.Logger, cfg Config) *Scheduler {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 8
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Scheduler{
		gateway:  gw,
		fallback: cfg.Fallback,
		handler:  handler,
		bus:      bus,
		logger:   logger.With("component", "scheduler"),
		sem:      semaphore.NewWeighted(cfg.ConcurrencyLimit),
		runs:     make(map[string]*run),
	}
}

// Submit validates the definition and starts its run. The returned handle
// observes and controls the run; the run itself progresses on its own
// goroutine. Rejects malformed definitions (duplicate IDs, dangling
// dependencies, cycles) before any task executes.
func (s *Scheduler) Submit(ctx context.Context, def *workflow.Definition) (*Handle, error) {
	if _, err := def.Validate(); err != nil {
		return nil, err
	}

	r := newRun(uuid.NewString(), def, s)

	s.mu.Lock()
	s.runs[r.id] = r
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	r.cancelFn = cancel
	go r.loop(runCtx)

	s.logger.Info("workflow submitted", "workflow", def.ID, "run", r.id, "tasks", len(def.Tasks))
	return &Handle{r: r}, nil
}

// Cancel requests cancellation of a run by ID. Idempotent: cancelling an
// unknown, already-cancelled, or already-finished run is a no-op.
func (s *Scheduler) Cancel(runID string) {
	s.mu.Lock()
	r, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return
	}
	r.requestCancel()
}

// forget drops a terminal run from the registry. Handles issued earlier keep
// working; they hold the run directly.
func (s *Scheduler) forget(runID string) {
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
}

// Run returns the handle for an active run ID. Terminal runs are evicted, so
// callers that need the final breakdown keep the Handle from Submit.
func (s *Scheduler) Run(runID string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	return &Handle{r: r}, true
}

func (s *Scheduler) emit(event events.Event) {
	if s.bus != nil {
		s.bus.Emit(event)
	}
}
