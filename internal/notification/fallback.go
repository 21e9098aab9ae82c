package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hemobank/pkg/platform/circuit"
)

// FallbackSink delivers through a primary Sink guarded by a circuit
// breaker. While the breaker is open events go to the fallback, with an
// occasional probe of the primary so a recovered broker closes the
// circuit again.
type FallbackSink struct {
	primary  Sink
	fallback Sink
	breaker  *circuit.Breaker
	logger   *slog.Logger

	probeEvery time.Duration
	mu         sync.Mutex
	lastProbe  time.Time
}

func NewFallbackSink(primary, fallback Sink, breaker *circuit.Breaker, logger *slog.Logger) *FallbackSink {
	return &FallbackSink{
		primary:    primary,
		fallback:   fallback,
		breaker:    breaker,
		logger:     logger,
		probeEvery: 15 * time.Second,
		lastProbe:  time.Now(),
	}
}

func (s *FallbackSink) Publish(ctx context.Context, event Event) error {
	if s.breaker.IsOpen() && !s.shouldProbe() {
		return s.fallback.Publish(ctx, event)
	}

	err := s.primary.Publish(ctx, event)
	if err == nil {
		if _, change := s.breaker.RecordSuccess(); change.Closed {
			s.logger.InfoContext(ctx, "notification sink recovered", "breaker", s.breaker.Name())
		}
		return nil
	}

	useFallback, change := s.breaker.RecordFailure()
	if change.Opened {
		s.logger.ErrorContext(ctx, "notification sink circuit opened",
			"breaker", s.breaker.Name(),
			"error", err,
		)
	}
	if useFallback {
		return s.fallback.Publish(ctx, event)
	}
	return err
}

func (s *FallbackSink) shouldProbe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastProbe) < s.probeEvery {
		return false
	}
	s.lastProbe = time.Now()
	return true
}

// FanoutSink publishes every event to all sinks; the first error wins but
// later sinks still receive the event.
type FanoutSink struct {
	sinks []Sink
}

func NewFanoutSink(sinks ...Sink) *FanoutSink {
	return &FanoutSink{sinks: sinks}
}

func (s *FanoutSink) Publish(ctx context.Context, event Event) error {
	var first error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
