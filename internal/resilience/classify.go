package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"

	"github.com/taskweave/taskweave/internal/gateway"
	"github.com/taskweave/taskweave/internal/workflow"
)

// Category buckets a failure by origin.
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryValidation Category = "validation"
	CategorySystem     Category = "system"
	CategoryGeneric    Category = "generic"
)

// Severity grades a failure for alerting.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Class is the outcome of classifying a raw failure.
type Class struct {
	Category    Category
	Severity    Severity
	Recoverable bool
}

// Classify maps a raw failure to a category, severity, and retry eligibility.
//
// Network-origin failures (refused connections, timeouts, 5xx responses) are
// recoverable. Validation failures are not: retrying a malformed request
// never helps. System failures (cancellation, resource exhaustion) are not
// retried. Everything else is generic and gets the retry budget.
func Classify(err error) Class {
	if err == nil {
		return Class{Category: CategoryGeneric, Severity: SeverityLow, Recoverable: false}
	}

	// Cancellation and deadline expiry of the caller's context: stop, the
	// caller no longer wants the result.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Class{Category: CategorySystem, Severity: SeverityHigh, Recoverable: false}
	}

	var validationErr *workflow.ValidationError
	if errors.As(err, &validationErr) {
		return Class{Category: CategoryValidation, Severity: SeverityMedium, Recoverable: false}
	}

	var unknownAgent *gateway.UnknownAgentError
	if errors.As(err, &unknownAgent) {
		return Class{Category: CategoryValidation, Severity: SeverityHigh, Recoverable: false}
	}

	var invocationErr *gateway.InvocationError
	if errors.As(err, &invocationErr) {
		switch {
		case invocationErr.StatusCode == 0:
			// The call never produced a response: transport-level failure.
			return Class{Category: CategoryNetwork, Severity: SeverityMedium, Recoverable: true}
		case invocationErr.StatusCode >= http.StatusInternalServerError:
			return Class{Category: CategoryNetwork, Severity: SeverityHigh, Recoverable: true}
		case invocationErr.StatusCode == http.StatusTooManyRequests:
			return Class{Category: CategoryNetwork, Severity: SeverityMedium, Recoverable: true}
		default:
			// Remaining 4xx: the request itself is wrong.
			return Class{Category: CategoryValidation, Severity: SeverityMedium, Recoverable: false}
		}
	}

	// syscall.Errno satisfies net.Error, so specific errnos must be matched
	// before the generic network branch.
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return Class{Category: CategoryNetwork, Severity: SeverityMedium, Recoverable: true}
	}

	// Resource exhaustion is unrecoverable within a retry budget.
	if errors.Is(err, syscall.ENOMEM) || errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) {
		return Class{Category: CategorySystem, Severity: SeverityCritical, Recoverable: false}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Class{Category: CategoryNetwork, Severity: SeverityMedium, Recoverable: true}
	}

	return Class{Category: CategoryGeneric, Severity: SeverityMedium, Recoverable: true}
}
