package notification

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "hemobank/pkg/domain"
	"hemobank/pkg/platform/circuit"
)

type failingSink struct {
	err   error
	calls int
}

func (s *failingSink) Publish(context.Context, Event) error {
	s.calls++
	return s.err
}

func TestFallbackSinkRoutesToFallbackWhenOpen(t *testing.T) {
	primary := &failingSink{err: errors.New("broker down")}
	fallback := NewMemorySink()
	breaker := circuit.New("notifications", circuit.WithFailureThreshold(2))
	sink := NewFallbackSink(primary, fallback, breaker, slog.Default())
	ctx := context.Background()

	// First failure is surfaced; the circuit is still closed.
	err := sink.Publish(ctx, Event{Kind: KindLowStock})
	require.Error(t, err)
	assert.False(t, breaker.IsOpen())
	assert.Empty(t, fallback.Events())

	// Second failure opens the circuit and the event lands in the fallback.
	err = sink.Publish(ctx, Event{Kind: KindLowStock, BloodType: id.BloodTypeONeg})
	require.NoError(t, err)
	assert.True(t, breaker.IsOpen())
	require.Len(t, fallback.Events(), 1)
	assert.Equal(t, id.BloodTypeONeg, fallback.Events()[0].BloodType)

	// Open circuit: events go straight to the fallback without touching
	// the primary until the probe interval elapses.
	primaryCalls := primary.calls
	err = sink.Publish(ctx, Event{Kind: KindLowStock})
	require.NoError(t, err)
	assert.Equal(t, primaryCalls, primary.calls)
	assert.Len(t, fallback.Events(), 2)
}

func TestFallbackSinkRecoversThroughProbes(t *testing.T) {
	primary := &failingSink{err: errors.New("broker down")}
	fallback := NewMemorySink()
	breaker := circuit.New("notifications",
		circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(1))
	sink := NewFallbackSink(primary, fallback, breaker, slog.Default())
	sink.probeEvery = 0
	ctx := context.Background()

	require.NoError(t, sink.Publish(ctx, Event{Kind: KindLowStock}))
	require.True(t, breaker.IsOpen())

	// With zero probe interval every publish probes the primary; once it
	// heals the circuit closes again.
	primary.err = nil
	require.NoError(t, sink.Publish(ctx, Event{Kind: KindLowStock}))
	assert.False(t, breaker.IsOpen())
	assert.Len(t, fallback.Events(), 1)
}

func TestFanoutSinkDeliversToAllSinks(t *testing.T) {
	first := NewMemorySink()
	second := NewMemorySink()
	broken := &failingSink{err: errors.New("nope")}
	sink := NewFanoutSink(first, broken, second)

	err := sink.Publish(context.Background(), Event{Kind: KindRequestFulfilled})
	require.Error(t, err)
	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1)
}
