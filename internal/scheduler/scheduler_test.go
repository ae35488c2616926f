package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/taskweave/taskweave/internal/events"
	"github.com/taskweave/taskweave/internal/gateway"
	"github.com/taskweave/taskweave/internal/resilience"
	"github.com/taskweave/taskweave/internal/resolver"
	"github.com/taskweave/taskweave/internal/workflow"
)

// agentFunc scripts one agent's behavior in tests.
type agentFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// invocation records one gateway call with its active window.
type invocation struct {
	agent string
	input map[string]any
	start time.Time
	end   time.Time
}

// fakeGateway is the test double for the agent gateway. Synthetic results
// live here and only here.
type fakeGateway struct {
	mu     sync.Mutex
	agents map[string]agentFunc
	calls  []invocation
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{agents: make(map[string]agentFunc)}
}

func (f *fakeGateway) on(agent string, fn agentFunc) {
	f.agents[agent] = fn
}

// echo registers an agent that returns a fixed payload after an optional delay.
func (f *fakeGateway) echo(agent string, delay time.Duration, result map[string]any) {
	f.on(agent, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return result, nil
	})
}

func (f *fakeGateway) Invoke(ctx context.Context, agent string, kind workflow.Kind, input map[string]any) (map[string]any, error) {
	f.mu.Lock()
	fn, ok := f.agents[agent]
	f.mu.Unlock()
	if !ok {
		return nil, &gateway.UnknownAgentError{Agent: agent}
	}

	start := time.Now()
	result, err := fn(ctx, input)
	end := time.Now()

	f.mu.Lock()
	f.calls = append(f.calls, invocation{agent: agent, input: input, start: start, end: end})
	f.mu.Unlock()
	return result, err
}

func (f *fakeGateway) invocations() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation(nil), f.calls...)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// newTestScheduler wires a scheduler over the fake gateway with a fast retry
// policy.
func newTestScheduler(gw gateway.Invoker, maxRetries int, bus *events.Bus, cfg Config) *Scheduler {
	retry := resilience.RetryConfig{
		MaxRetries:          maxRetries,
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		MaxElapsedTime:      5 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0,
	}
	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{Threshold: 100, Cooldown: time.Minute, ProbeRequests: 1}, quietLogger())
	handler := resilience.NewHandler(retry, breakers, bus, quietLogger())
	return New(gw, handler, bus, quietLogger(), cfg)
}

func taskByID(t *testing.T, summary *Summary, id string) TaskReport {
	t.Helper()
	for _, task := range summary.Tasks {
		if task.ID == id {
			return task
		}
	}
	t.Fatalf("task %q not in summary", id)
	return TaskReport{}
}

func TestLinearChainRunsInDependencyOrder(t *testing.T) {
	gw := newFakeGateway()
	gw.echo("scout", 0, map[string]any{"out": "scout"})
	gw.echo("architect", 0, map[string]any{"out": "architect"})
	gw.echo("developer", 0, map[string]any{"out": "developer"})

	def := &workflow.Definition{
		ID: "chain",
		Tasks: []*workflow.Task{
			{ID: "scout", Agent: "scout", Kind: workflow.KindAnalyze},
			{ID: "architect", Agent: "architect", Kind: workflow.KindDesign, DependsOn: []string{"scout"}},
			{ID: "developer", Agent: "developer", Kind: workflow.KindImplement, DependsOn: []string{"architect"}},
		},
	}

	sched := newTestScheduler(gw, 0, nil, Config{})
	handle, err := sched.Submit(context.Background(), def)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	summary, err := handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if summary.Status != workflow.StatusCompleted {
		t.Fatalf("Status = %s, want completed", summary.Status)
	}

	calls := gw.invocations()
	if len(calls) != 3 {
		t.Fatalf("gateway invoked %d times, want 3", len(calls))
	}
	wantOrder := []string{"scout", "architect", "developer"}
	for i, call := range calls {
		if call.agent != wantOrder[i] {
			t.Errorf("invocation %d = %s, want %s", i, call.agent, wantOrder[i])
		}
	}

	// B depends on A: B must start after A ended.
	scout := taskByID(t, summary, "scout")
	architect := taskByID(t, summary, "architect")
	if architect.StartedAt.Before(scout.EndedAt) {
		t.Errorf("architect started %v before scout ended %v", architect.StartedAt, scout.EndedAt)
	}
}

func TestIndependentTasksOverlap(t *testing.T) {
	gw := newFakeGateway()
	gw.echo("a", 80*time.Millisecond, map[string]any{"ok": true})
	gw.echo("b", 80*time.Millisecond, map[string]any{"ok": true})

	def := &workflow.Definition{
		ID: "parallel",
		Tasks: []*workflow.Task{
			{ID: "A", Agent: "a"},
			{ID: "B", Agent: "b"},
		},
	}

	sched := newTestScheduler(gw, 0, nil, Config{ConcurrencyLimit: 4})
	handle, err := sched.Submit(context.Background(), def)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	summary, _ := handle.Wait(context.Background())
	if summary.Status != workflow.StatusCompleted {
		t.Fatalf("Status = %s, want completed", summary.Status)
	}

	a := taskByID(t, summary, "A")
	b := taskByID(t, summary, "B")
	if !a.StartedAt.Before(b.EndedAt) || !b.StartedAt.Before(a.EndedAt) {
		t.Errorf("active windows do not overlap: A=[%v %v] B=[%v %v]",
			a.StartedAt, a.EndedAt, b.StartedAt, b.EndedAt)
	}
}

func TestResultPropagationBetweenTasks(t *testing.T) {
	gw := newFakeGateway()
	gw.echo("scout", 0, map[string]any{"summary": "two suspicious files"})

	var got any
	gw.on("architect", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		got = input["findings"]
		return map[string]any{"plan": "rewrite both"}, nil
	})

	def := &workflow.Definition{
		ID: "flow",
		Tasks: []*workflow.Task{
			{ID: "scout", Agent: "scout"},
			{
				ID:        "architect",
				Agent:     "architect",
				DependsOn: []string{"scout"},
				Input: map[string]any{
					"findings": resolver.Ref{Task: "scout", Field: "summary"},
				},
			},
		},
	}

	sched := newTestScheduler(gw, 0, nil, Config{})
	handle, _ := sched.Submit(context.Background(), def)
	summary, _ := handle.Wait(context.Background())

	if summary.Status != workflow.StatusCompleted {
		t.Fatalf("Status = %s, want completed", summary.Status)
	}
	if got != "two suspicious files" {
		t.Errorf("architect received findings = %v, want scout's summary", got)
	}
}

func TestFailedTaskBlocksDependentsForever(t *testing.T) {
	gw := newFakeGateway()
	gw.on("x", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return nil, &workflow.ValidationError{TaskID: "X", Reason: "bad input"}
	})
	gw.echo("y", 0, map[string]any{"ok": true})
	gw.echo("z", 0, map[string]any{"ok": true})

	def := &workflow.Definition{
		ID: "partial",
		Tasks: []*workflow.Task{
			{ID: "X", Agent: "x"},
			{ID: "Y", Agent: "y", DependsOn: []string{"X"}},
			{ID: "Z", Agent: "z"}, // Independent branch keeps running
		},
	}

	sched := newTestScheduler(gw, 0, nil, Config{})
	handle, _ := sched.Submit(context.Background(), def)
	summary, _ := handle.Wait(context.Background())

	if summary.Status != workflow.StatusPartiallyFailed {
		t.Fatalf("Status = %s, want partially-failed", summary.Status)
	}

	x := taskByID(t, summary, "X")
	if x.Status != workflow.TaskFailed {
		t.Errorf("X status = %s, want failed", x.Status)
	}
	var validationErr *workflow.ValidationError
	if !errors.As(x.Err, &validationErr) {
		t.Errorf("X err = %v, want *ValidationError", x.Err)
	}

	y := taskByID(t, summary, "Y")
	if y.Status != workflow.TaskPending {
		t.Errorf("Y status = %s, want pending (dependent of failed task)", y.Status)
	}

	// Sibling branch is unaffected by X's failure.
	z := taskByID(t, summary, "Z")
	if z.Status != workflow.TaskCompleted {
		t.Errorf("Z status = %s, want completed", z.Status)
	}

	var stalled *workflow.StalledError
	if !errors.As(summary.Detail, &stalled) {
		t.Fatalf("Detail = %v, want *StalledError", summary.Detail)
	}
	if len(stalled.PendingIDs) != 1 || stalled.PendingIDs[0] != "Y" {
		t.Errorf("StalledError.PendingIDs = %v, want [Y]", stalled.PendingIDs)
	}
}

func TestCyclicDefinitionRejectedAtSubmission(t *testing.T) {
	gw := newFakeGateway()
	def := &workflow.Definition{
		ID: "cyclic",
		Tasks: []*workflow.Task{
			{ID: "A", Agent: "a", DependsOn: []string{"B"}},
			{ID: "B", Agent: "b", DependsOn: []string{"A"}},
		},
	}

	sched := newTestScheduler(gw, 0, nil, Config{})
	_, err := sched.Submit(context.Background(), def)

	var malformed *workflow.MalformedWorkflowError
	if !errors.As(err, &malformed) {
		t.Fatalf("Submit() error = %v (%T), want *MalformedWorkflowError", err, err)
	}
	if len(gw.invocations()) != 0 {
		t.Error("a rejected definition must never partially execute")
	}
}

func TestRetryThenSuccessSetsRecovered(t *testing.T) {
	gw := newFakeGateway()

	var mu sync.Mutex
	failures := 0
	gw.on("flaky", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures < 3 {
			failures++
			return nil, &gateway.InvocationError{Agent: "flaky", Err: errors.New("timeout")}
		}
		return map[string]any{"ok": true}, nil
	})

	def := &workflow.Definition{
		ID:    "retry",
		Tasks: []*workflow.Task{{ID: "T", Agent: "flaky"}},
	}

	sched := newTestScheduler(gw, 3, nil, Config{})
	handle, _ := sched.Submit(context.Background(), def)
	summary, _ := handle.Wait(context.Background())

	if summary.Status != workflow.StatusCompleted {
		t.Fatalf("Status = %s, want completed", summary.Status)
	}
	task := taskByID(t, summary, "T")
	if task.Status != workflow.TaskCompleted {
		t.Fatalf("T status = %s, want completed", task.Status)
	}
	if !task.Recovered {
		t.Error("T needed retries; Recovered must be true")
	}
}

func TestFallbackInvokerRecovers(t *testing.T) {
	gw := newFakeGateway()
	gw.on("down", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return nil, &gateway.InvocationError{Agent: "down", Err: errors.New("unreachable")}
	})

	fallback := newFakeGateway()
	fallback.echo("down", 0, map[string]any{"source": "degraded"})

	def := &workflow.Definition{
		ID:    "fallback",
		Tasks: []*workflow.Task{{ID: "T", Agent: "down"}},
	}

	sched := newTestScheduler(gw, 1, nil, Config{Fallback: fallback})
	handle, _ := sched.Submit(context.Background(), def)
	summary, _ := handle.Wait(context.Background())

	if summary.Status != workflow.StatusCompleted {
		t.Fatalf("Status = %s, want completed", summary.Status)
	}
	task := taskByID(t, summary, "T")
	if !task.Recovered {
		t.Error("fallback result must be tagged Recovered")
	}
	if task.Result["source"] != "degraded" {
		t.Errorf("Result = %v, want the fallback payload", task.Result)
	}
}

func TestCancelDiscardsPendingAndInFlight(t *testing.T) {
	gw := newFakeGateway()
	started := make(chan struct{})
	gw.on("slow", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		close(started)
		select {
		case <-time.After(5 * time.Second):
			return map[string]any{"too": "late"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	gw.echo("after", 0, map[string]any{"ok": true})

	def := &workflow.Definition{
		ID: "cancellable",
		Tasks: []*workflow.Task{
			{ID: "slow", Agent: "slow"},
			{ID: "after", Agent: "after", DependsOn: []string{"slow"}},
		},
	}

	sched := newTestScheduler(gw, 0, nil, Config{})
	handle, _ := sched.Submit(context.Background(), def)

	<-started
	handle.Cancel()
	handle.Cancel() // Idempotent while running

	summary, err := handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if summary.Status != workflow.StatusCancelled {
		t.Fatalf("Status = %s, want cancelled", summary.Status)
	}

	slow := taskByID(t, summary, "slow")
	if slow.Status != workflow.TaskFailed {
		t.Errorf("slow status = %s, want failed", slow.Status)
	}
	var cancelled *workflow.CancelledError
	if !errors.As(slow.Err, &cancelled) {
		t.Errorf("slow err = %v, want *CancelledError", slow.Err)
	}

	after := taskByID(t, summary, "after")
	if after.Status != workflow.TaskPending {
		t.Errorf("after status = %s, want pending (never dispatched)", after.Status)
	}
	if len(gw.invocations()) != 1 {
		t.Errorf("gateway invoked %d times, want 1", len(gw.invocations()))
	}

	// Cancel after terminal is a no-op too.
	handle.Cancel()
	if handle.Status() != workflow.StatusCancelled {
		t.Error("cancel after completion changed the terminal status")
	}
}

func TestCancelByRunID(t *testing.T) {
	gw := newFakeGateway()
	started := make(chan struct{})
	gw.on("slow", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	def := &workflow.Definition{
		ID:    "byid",
		Tasks: []*workflow.Task{{ID: "slow", Agent: "slow"}},
	}

	sched := newTestScheduler(gw, 0, nil, Config{})
	handle, _ := sched.Submit(context.Background(), def)

	<-started
	sched.Cancel(handle.RunID())
	sched.Cancel("no-such-run") // Unknown IDs are ignored

	summary, _ := handle.Wait(context.Background())
	if summary.Status != workflow.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", summary.Status)
	}
}

func TestTerminalRunsAreEvicted(t *testing.T) {
	gw := newFakeGateway()
	release := make(chan struct{})
	gw.on("a", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		<-release
		return map[string]any{"ok": true}, nil
	})

	def := &workflow.Definition{
		ID:    "short-lived",
		Tasks: []*workflow.Task{{ID: "A", Agent: "a"}},
	}

	sched := newTestScheduler(gw, 0, nil, Config{})
	handle, err := sched.Submit(context.Background(), def)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if _, ok := sched.Run(handle.RunID()); !ok {
		t.Error("Run() lost an in-progress run")
	}
	close(release)

	summary, err := handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if _, ok := sched.Run(handle.RunID()); ok {
		t.Error("terminal run still registered with the scheduler")
	}
	sched.Cancel(handle.RunID()) // Evicted ID is just unknown now

	// The handle from Submit keeps working after eviction.
	if summary.Status != workflow.StatusCompleted {
		t.Errorf("Status = %s, want completed", summary.Status)
	}
	if handle.Status() != workflow.StatusCompleted {
		t.Errorf("handle status after eviction = %s, want completed", handle.Status())
	}
}

func TestPriorityBreaksTiesAmongReadyTasks(t *testing.T) {
	gw := newFakeGateway()
	gw.echo("a", 0, map[string]any{"ok": true})
	gw.echo("b", 0, map[string]any{"ok": true})

	bus := events.NewBus()
	startedCh := bus.Subscribe(events.TopicTask, 16)

	def := &workflow.Definition{
		ID: "priority",
		Tasks: []*workflow.Task{
			{ID: "low", Agent: "a", Priority: 0},
			{ID: "high", Agent: "b", Priority: 5},
		},
	}

	sched := newTestScheduler(gw, 0, bus, Config{})
	handle, _ := sched.Submit(context.Background(), def)
	handle.Wait(context.Background())

	// The first task_started event belongs to the higher-priority task.
	for {
		select {
		case event := <-startedCh:
			if event.EventType() != events.EventTypeTaskStarted {
				continue
			}
			if event.TaskID() != "high" {
				t.Errorf("first dispatched task = %s, want high", event.TaskID())
			}
			return
		case <-time.After(time.Second):
			t.Fatal("no task_started event observed")
		}
	}
}

func TestWorkflowEventsEmitted(t *testing.T) {
	gw := newFakeGateway()
	gw.echo("a", 0, map[string]any{"ok": true})

	bus := events.NewBus()
	allCh := bus.SubscribeAll(32)

	def := &workflow.Definition{
		ID:    "observed",
		Tasks: []*workflow.Task{{ID: "A", Agent: "a"}},
	}

	sched := newTestScheduler(gw, 0, bus, Config{})
	handle, _ := sched.Submit(context.Background(), def)
	handle.Wait(context.Background())

	seen := map[string]bool{}
	timeout := time.After(time.Second)
	for len(seen) < 3 {
		select {
		case event := <-allCh:
			seen[event.EventType()] = true
		case <-timeout:
			t.Fatalf("timed out, saw %v", seen)
		}
	}

	for _, want := range []string{
		events.EventTypeTaskStarted,
		events.EventTypeTaskCompleted,
		events.EventTypeWorkflowCompleted,
	} {
		if !seen[want] {
			t.Errorf("missing event %s", want)
		}
	}
}
