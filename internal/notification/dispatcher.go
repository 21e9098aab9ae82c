package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher is what domain services see. Emitting never blocks a domain
// write: delivery failure is the messaging collaborator's problem, not a
// reason to roll back a fulfillment.
type Dispatcher interface {
	Emit(ctx context.Context, event Event)
}

// Sink is a delivery backend for the async worker (Kafka in production, a
// recorder in tests).
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// AsyncDispatcher buffers events on a channel consumed by Worker. When the
// buffer is full the event is dropped with a log line; notifications are
// best-effort by contract.
type AsyncDispatcher struct {
	inbox  chan Event
	logger *slog.Logger
}

func NewAsyncDispatcher(buffer int, logger *slog.Logger) *AsyncDispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &AsyncDispatcher{
		inbox:  make(chan Event, buffer),
		logger: logger,
	}
}

func (d *AsyncDispatcher) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case d.inbox <- event:
	default:
		d.logger.WarnContext(ctx, "notification buffer full, dropping event",
			"kind", event.Kind,
		)
	}
}

// Inbox exposes the channel for the worker.
func (d *AsyncDispatcher) Inbox() <-chan Event { return d.inbox }

// Worker drains an AsyncDispatcher into a Sink. It keeps background
// processing testable without wiring a broker.
type Worker struct {
	sink   Sink
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Publish(ctx, event); err != nil {
				// Delivery retries belong to the external dispatcher; the
				// core only reports the failure.
				w.logger.ErrorContext(ctx, "notification publish failed",
					"kind", event.Kind,
					"error", err,
				)
			}
		}
	}
}

// MemorySink records published events, for tests and for running without a
// broker configured.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Publish(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event{}, s.events...)
}
