package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(maxRetries int) *ClientPool {
	return NewClientPool(ClientConfig{
		MaxConcurrency: 2,
		RequestTimeout: 2 * time.Second,
		MaxRetries:     maxRetries,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
		UserAgent:      "insight-test/1.0",
	})
}

func TestDoSetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pool := testPool(0)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := pool.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "insight-test/1.0", gotUA)
}

func TestDoRetriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pool := testPool(3)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := pool.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	stats := pool.GetStats()
	assert.Equal(t, int64(2), stats.RetriedRequests)
	assert.Equal(t, int64(1), stats.SuccessRequests)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pool := testPool(2)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = pool.Do(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	pool := testPool(3)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := pool.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx other than 429 should not retry")
}

func TestDoWaitsForCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pool := NewClientPool(ClientConfig{
		MaxConcurrency: 1,
		RequestTimeout: time.Second,
		MaxRetries:     5,
		BackoffBase:    200 * time.Millisecond,
		BackoffMax:     time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = pool.Do(ctx, req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Equal(t, 30*time.Second, parseRetryAfter("120"), "cooldowns are capped")
}

func TestCalculateBackoffIsCapped(t *testing.T) {
	pool := testPool(3)

	for attempt := 1; attempt <= 10; attempt++ {
		b := pool.calculateBackoff(attempt)
		assert.LessOrEqual(t, b, pool.config.BackoffMax+pool.config.BackoffMax/10)
	}
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(errors.New("dial tcp: i/o timeout")))
	assert.True(t, isRetryableError(errors.New("read: Connection Reset by peer")))
	assert.False(t, isRetryableError(nil))
	assert.False(t, isRetryableError(assert.AnError))
}
