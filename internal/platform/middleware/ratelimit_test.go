package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hemobank/pkg/requestcontext"
)

func TestRateLimitBoundsPerActor(t *testing.T) {
	handler := RateLimit(2, time.Minute, NewMemoryCounter(), slog.Default())(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	do := func(actor string) int {
		req := httptest.NewRequest(http.MethodGet, "/stock", nil)
		req = req.WithContext(requestcontext.WithActorID(req.Context(), actor))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("staff-1"))
	assert.Equal(t, http.StatusOK, do("staff-1"))
	assert.Equal(t, http.StatusTooManyRequests, do("staff-1"))

	// A different actor has its own bucket.
	assert.Equal(t, http.StatusOK, do("staff-2"))
}

func TestRateLimitWindowResets(t *testing.T) {
	counter := NewMemoryCounter()
	handler := RateLimit(1, 10*time.Millisecond, counter, slog.Default())(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	do := func() int {
		req := httptest.NewRequest(http.MethodGet, "/stock", nil)
		req = req.WithContext(requestcontext.WithActorID(req.Context(), "staff-1"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, http.StatusOK, do())
}

type brokenCounter struct{}

func (brokenCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, assert.AnError
}

func TestRateLimitFailsOpenWhenCounterUnavailable(t *testing.T) {
	handler := RateLimit(1, time.Minute, brokenCounter{}, slog.Default())(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/stock", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
