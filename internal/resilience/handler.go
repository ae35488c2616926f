// Package resilience wraps fallible operations, primarily gateway
// invocations, with a uniform policy pipeline: classify, retry, fallback,
// circuit-break, report. Execute never panics past its boundary; callers
// always receive an Outcome.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"

	"github.com/taskweave/taskweave/internal/events"
)

// Operation is any fallible unit of work the handler can drive.
type Operation func(ctx context.Context) (map[string]any, error)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	MaxRetries          int           // Re-invocations after the first attempt (default 3)
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:          3,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// Outcome is the result of driving an operation through the policy pipeline.
// Err is nil on success; Recovered marks a degraded success -- one that
// needed retries or the fallback -- so callers can tell it apart from a
// clean first-attempt success.
type Outcome struct {
	Result    map[string]any
	Err       error
	Class     Class // Classification of the final (or last handled) error; zero on clean first-attempt success
	Recovered bool
	Attempts  int
}

// Handler drives operations through classify -> retry -> fallback ->
// circuit-break -> report. One handler is shared by all tasks of a scheduler;
// breaker state and statistics aggregate across them.
type Handler struct {
	retry    RetryConfig
	breakers *BreakerRegistry
	stats    *Stats
	bus      *events.Bus
	logger   *log.Logger
}

// NewHandler creates a handler. bus may be nil when no observability sink is
// attached.
func NewHandler(retry RetryConfig, breakers *BreakerRegistry, bus *events.Bus, logger *log.Logger) *Handler {
	if retry.InitialInterval <= 0 {
		retry = DefaultRetryConfig()
	}
	if breakers == nil {
		breakers = NewBreakerRegistry(DefaultBreakerConfig(), logger)
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		retry:    retry,
		breakers: breakers,
		stats:    NewStats(),
		bus:      bus,
		logger:   logger.With("component", "resilience"),
	}
}

// Stats exposes the accumulated error statistics.
func (h *Handler) Stats() *Stats {
	return h.stats
}

// Execute runs op under the full policy pipeline.
//
// key is the logical operation key for circuit breaking and statistics,
// typically the agent name. taskID is carried into emitted events only.
// fallback, when non-nil, runs once after the retry budget is exhausted; its
// success is reported with Recovered=true.
func (h *Handler) Execute(ctx context.Context, key, taskID string, op Operation, fallback Operation) Outcome {
	outcome := Outcome{}
	cb := h.breakers.Get(key)

	var lastClass Class

	attempt := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		outcome.Attempts++

		result, err := cb.Execute(func() (any, error) {
			return op(ctx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(&CircuitOpenError{Key: key, Err: err})
			}

			class := Classify(err)
			lastClass = class
			h.stats.Record(key, class, err)
			if !class.Recoverable {
				return backoff.Permanent(err)
			}
			return err
		}

		outcome.Result = result.(map[string]any)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.retry.InitialInterval
	policy.MaxInterval = h.retry.MaxInterval
	policy.MaxElapsedTime = h.retry.MaxElapsedTime
	policy.Multiplier = h.retry.Multiplier
	policy.RandomizationFactor = h.retry.RandomizationFactor

	maxRetries := h.retry.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxRetries)), ctx))
	if err == nil {
		if outcome.Attempts > 1 {
			// Degraded success: the failed attempts were handled, so the
			// recovery is reported like any other handled error.
			outcome.Recovered = true
			outcome.Class = lastClass
			h.logger.Warn("operation recovered after retries", "key", key, "task", taskID, "attempts", outcome.Attempts)
			h.emitHandled(key, taskID, outcome)
		}
		return outcome
	}

	outcome.Err = err
	outcome.Class = Classify(err)
	var open *CircuitOpenError
	if errors.As(err, &open) {
		outcome.Class = Class{Category: CategorySystem, Severity: SeverityHigh, Recoverable: false}
	}

	// Retries exhausted or short-circuited. Run the fallback if the caller
	// supplied one and the caller still wants a result.
	if fallback != nil && ctx.Err() == nil {
		result, fbErr := fallback(ctx)
		if fbErr == nil {
			outcome.Result = result
			outcome.Err = nil
			outcome.Recovered = true
		} else {
			h.stats.Record(key, Classify(fbErr), fbErr)
			h.logger.Error("fallback failed", "key", key, "task", taskID, "err", fbErr)
		}
	}

	h.report(key, taskID, outcome)
	return outcome
}

// report emits one structured event per handled error and mirrors it to the
// log. Called only when the primary operation failed.
func (h *Handler) report(key, taskID string, outcome Outcome) {
	err := outcome.Err
	if err == nil {
		// Fallback recovered; report the degradation, not a failure.
		h.logger.Warn("operation recovered via fallback", "key", key, "task", taskID, "attempts", outcome.Attempts)
	} else {
		h.logger.Error("operation failed",
			"key", key,
			"task", taskID,
			"category", string(outcome.Class.Category),
			"severity", string(outcome.Class.Severity),
			"attempts", outcome.Attempts,
			"err", err,
		)
	}

	h.emitHandled(key, taskID, outcome)
}

// emitHandled publishes one error_handled event for the outcome. Err is nil
// when the operation ultimately recovered.
func (h *Handler) emitHandled(key, taskID string, outcome Outcome) {
	if h.bus == nil {
		return
	}
	h.bus.Emit(events.ErrorHandledEvent{
		OperationKey: key,
		Task:         taskID,
		Category:     string(outcome.Class.Category),
		Severity:     string(outcome.Class.Severity),
		Recovered:    outcome.Recovered,
		Attempts:     outcome.Attempts,
		Err:          outcome.Err,
		Timestamp:    time.Now(),
	})
}
