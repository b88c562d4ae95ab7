package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vetsync/pkg/logger"
	"github.com/angelmondragon/vetsync/pkg/types"
)

type fakeLimiter struct {
	allow bool
	err   error
	calls int
	scope string
}

func (f *fakeLimiter) FixedWindowAllow(_ context.Context, scope string, _ int64, _ time.Duration) (bool, int64, error) {
	f.calls++
	f.scope = scope
	return f.allow, int64(f.calls), f.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequestIDGeneratesAndEchoes(t *testing.T) {
	h := RequestID(logger.Nop())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestRequestIDReplacesUnusableHeader(t *testing.T) {
	var seen string
	h := RequestID(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, incoming := range []string{"   ", "has space", strings.Repeat("x", maxRequestIDLen+1)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, incoming)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		got := rec.Header().Get(requestIDHeader)
		assert.NotEqual(t, strings.TrimSpace(incoming), got)
		assert.Len(t, got, 36)
		assert.Equal(t, got, seen)
	}
}

func TestRequestIDTagsDeviceInLog(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: &buf})
	h := RequestID(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logg.Info(r.Context(), "handled")
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, " req-7 ")
	req.Header.Set(deviceIDHeader, "tablet-3")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-7", rec.Header().Get(requestIDHeader))
	assert.Contains(t, buf.String(), `"request_id":"req-7"`)
	assert.Contains(t, buf.String(), `"device_id":"tablet-3"`)
}

func TestLoggingRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: &buf})

	rec := httptest.NewRecorder()
	Logging(logg)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/push", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, buf.String(), `"status":204`)
	assert.Contains(t, buf.String(), `"path":"/api/v1/sync/push"`)
}

func TestRecovererReturnsInternalError(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	Recoverer(logger.Nop())(panicky).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestTriggerRateLimit(t *testing.T) {
	policy := NewTriggerRateLimitPolicy(" Sync ", time.Minute, 1)

	t.Run("allows under limit", func(t *testing.T) {
		store := &fakeLimiter{allow: true}
		rec := httptest.NewRecorder()
		TriggerRateLimit(policy, store, logger.Nop())(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "trigger:sync", store.scope)
	})

	t.Run("blocks over limit", func(t *testing.T) {
		store := &fakeLimiter{allow: false}
		rec := httptest.NewRecorder()
		TriggerRateLimit(policy, store, logger.Nop())(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("fails open on store error", func(t *testing.T) {
		store := &fakeLimiter{err: errors.New("connection refused")}
		rec := httptest.NewRecorder()
		TriggerRateLimit(policy, store, logger.Nop())(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("disabled without store", func(t *testing.T) {
		rec := httptest.NewRecorder()
		TriggerRateLimit(policy, nil, logger.Nop())(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	})
}
