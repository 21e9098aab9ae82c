package audit

import (
	"context"
	"time"

	"hemobank/pkg/requestcontext"
)

// Publisher captures structured audit events. Writes are synchronous and
// fail-closed: if the trail cannot be persisted, the staff action that
// required it must not proceed.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ActorID == "" {
		event.ActorID = requestcontext.ActorID(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	return p.store.Append(ctx, event)
}

func (p *Publisher) ListByEntity(ctx context.Context, entity string) ([]Event, error) {
	return p.store.ListByEntity(ctx, entity)
}
