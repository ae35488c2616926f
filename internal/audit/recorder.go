package audit

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/taskweave/taskweave/internal/events"
)

// Recorder subscribes to the event bus and appends one row per event.
// A write failure is logged and dropped; observability must never stall the
// scheduler.
type Recorder struct {
	store  Store
	logger *log.Logger
	done   chan struct{}
}

// NewRecorder starts recording every event published on bus into store.
// Recording stops when the bus closes; Wait blocks until the tail is flushed.
func NewRecorder(store Store, bus *events.Bus, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}

	r := &Recorder{
		store:  store,
		logger: logger.With("component", "audit"),
		done:   make(chan struct{}),
	}

	ch := bus.SubscribeAll(0)
	go r.consume(ch)
	return r
}

func (r *Recorder) consume(ch <-chan events.Event) {
	defer close(r.done)

	for event := range ch {
		entry := toEntry(event)
		if err := r.store.Append(context.Background(), entry); err != nil {
			r.logger.Warn("dropping audit entry", "type", event.EventType(), "err", err)
		}
	}
}

// Wait blocks until the recorder has drained its subscription. Close the bus
// first, then Wait, then close the store.
func (r *Recorder) Wait() {
	<-r.done
}

// toEntry flattens a typed event into an audit row.
func toEntry(event events.Event) Entry {
	entry := Entry{
		TaskID:    event.TaskID(),
		EventType: event.EventType(),
	}

	switch e := event.(type) {
	case events.TaskStartedEvent:
		entry.WorkflowID = e.WorkflowID
		entry.Agent = e.Agent
		entry.Status = "running"
		entry.CreatedAt = e.Timestamp
	case events.TaskCompletedEvent:
		entry.WorkflowID = e.WorkflowID
		entry.Agent = e.Agent
		entry.Status = "completed"
		entry.Detail = fmt.Sprintf("recovered=%t duration=%s", e.Recovered, e.Duration)
		entry.CreatedAt = e.Timestamp
	case events.TaskFailedEvent:
		entry.WorkflowID = e.WorkflowID
		entry.Agent = e.Agent
		entry.Status = "failed"
		if e.Err != nil {
			entry.Detail = e.Err.Error()
		}
		entry.CreatedAt = e.Timestamp
	case events.ErrorHandledEvent:
		entry.Agent = e.OperationKey
		entry.Status = e.Severity
		if e.Err != nil {
			entry.Detail = fmt.Sprintf("category=%s attempts=%d recovered=%t: %v", e.Category, e.Attempts, e.Recovered, e.Err)
		} else {
			entry.Detail = fmt.Sprintf("category=%s attempts=%d recovered=%t", e.Category, e.Attempts, e.Recovered)
		}
		entry.CreatedAt = e.Timestamp
	case events.WorkflowCompletedEvent:
		entry.WorkflowID = e.WorkflowID
		entry.Status = e.Status
		entry.Detail = fmt.Sprintf("completed=%d failed=%d pending=%d duration=%s", e.Completed, e.Failed, e.Pending, e.Duration)
		entry.CreatedAt = e.Timestamp
	case events.WorkflowCancelledEvent:
		entry.WorkflowID = e.WorkflowID
		entry.Status = "cancelled"
		entry.CreatedAt = e.Timestamp
	}

	return entry
}
