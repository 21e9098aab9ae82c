package notification

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "hemobank/pkg/domain"
)

func TestWorkerDrainsDispatcherIntoSink(t *testing.T) {
	logger := slog.Default()
	dispatcher := NewAsyncDispatcher(8, logger)
	sink := NewMemorySink()
	worker := NewWorker(sink, dispatcher.Inbox(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	regID := id.NewRegistrationID()
	dispatcher.Emit(ctx, Event{Kind: KindRegistrationCompleted, RegistrationID: regID})
	dispatcher.Emit(ctx, Event{Kind: KindLowStock, BloodType: id.BloodTypeONeg, AvailableML: 120})

	require.Eventually(t, func() bool {
		return len(sink.Events()) == 2
	}, time.Second, 5*time.Millisecond)

	events := sink.Events()
	assert.Equal(t, KindRegistrationCompleted, events[0].Kind)
	assert.Equal(t, regID, events[0].RegistrationID)
	assert.False(t, events[0].Timestamp.IsZero(), "emit stamps the timestamp")
	assert.Equal(t, KindLowStock, events[1].Kind)
	assert.Equal(t, 120, events[1].AvailableML)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}

func TestEmitDropsWhenBufferFull(t *testing.T) {
	dispatcher := NewAsyncDispatcher(1, slog.Default())
	ctx := context.Background()

	// No worker is draining: the second emit must not block.
	dispatcher.Emit(ctx, Event{Kind: KindLowStock})
	finished := make(chan struct{})
	go func() {
		dispatcher.Emit(ctx, Event{Kind: KindLowStock})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full buffer")
	}
	assert.Len(t, dispatcher.Inbox(), 1)
}
