package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"
)

// CircuitOpenError is returned without attempting the underlying call while
// the breaker for an operation key is open.
type CircuitOpenError struct {
	Key string
	Err error
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %q: %v", e.Key, e.Err)
}

func (e *CircuitOpenError) Unwrap() error { return e.Err }

// BreakerConfig configures per-operation-key circuit breakers.
//
// Reset policy: once open, a breaker stays open for Cooldown, then moves to
// half-open and admits up to ProbeRequests calls. A probe success closes the
// breaker; a probe failure reopens it. The threshold counts consecutive
// failures, so a single success during retry resets the trip counter.
type BreakerConfig struct {
	Threshold     uint32        // Consecutive failures before the breaker opens (default 5)
	Cooldown      time.Duration // Open duration before half-open probing (default 30s)
	ProbeRequests uint32        // Calls admitted while half-open (default 3)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:     5,
		Cooldown:      30 * time.Second,
		ProbeRequests: 3,
	}
}

// BreakerRegistry manages one circuit breaker per logical operation key.
// Keys are typically agent names, so all tasks targeting the same agent share
// failure state.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	logger   *log.Logger
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates a registry with the given configuration.
func NewBreakerRegistry(cfg BreakerConfig, logger *log.Logger) *BreakerRegistry {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultBreakerConfig().Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if cfg.ProbeRequests == 0 {
		cfg.ProbeRequests = DefaultBreakerConfig().ProbeRequests
	}
	if logger == nil {
		logger = log.Default()
	}

	return &BreakerRegistry{
		cfg:      cfg,
		logger:   logger.With("component", "breaker"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the given operation key, creating it on
// first use.
func (r *BreakerRegistry) Get(key string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	threshold := r.cfg.Threshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: r.cfg.ProbeRequests,
		Interval:    0, // Never clear counts while closed
		Timeout:     r.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change", "key", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation is not a downstream failure.
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[key] = cb
	return cb
}
