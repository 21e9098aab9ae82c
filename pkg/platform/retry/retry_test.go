package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "hemobank/pkg/domain-errors"
)

func TestDoRetriesOnlyTransient(t *testing.T) {
	ctx := context.Background()
	fast := Policy{Attempts: 3, Backoff: time.Millisecond}

	t.Run("transient failure is retried until success", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fast, func(context.Context) error {
			calls++
			if calls < 3 {
				return dErrors.New(dErrors.CodeTransient, "store unavailable")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("business error surfaces immediately", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fast, func(context.Context) error {
			calls++
			return dErrors.New(dErrors.CodeEligibility, "donor is blocked")
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeEligibility))
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausted attempts return the last error", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fast, func(context.Context) error {
			calls++
			return dErrors.New(dErrors.CodeTransient, "still down")
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTransient))
		assert.Equal(t, 3, calls)
	})
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Policy{Attempts: 5, Backoff: 10 * time.Millisecond}, func(context.Context) error {
		calls++
		return dErrors.New(dErrors.CodeTransient, "down")
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransient))
	// First attempt runs, the backoff wait observes the cancelled context.
	assert.Equal(t, 1, calls)
}

func TestDoZeroPolicyUsesDefaults(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{}, func(context.Context) error {
		calls++
		return dErrors.New(dErrors.CodeTransient, "down")
	})
	require.Error(t, err)
	assert.Equal(t, defaultAttempts, calls)
}
