package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	f, err := New(Config{Attempts: 2, RetryDelay: time.Millisecond}, nil, nil)
	require.NoError(t, err)

	body, err := f.Fetch(context.Background(), srv.URL+"/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(body))

	// Revisiting the same URL is allowed.
	body, err = f.Fetch(context.Background(), srv.URL+"/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(body))
}

func TestFetchRetriesWithFixedBudget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f, err := New(Config{Attempts: 4, RetryDelay: time.Millisecond}, nil, nil)
	require.NoError(t, err)

	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, err := New(Config{Attempts: 3, RetryDelay: time.Millisecond}, nil, nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL+"/missing.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(3), calls.Load())
}

type countingWaiter struct {
	calls int
	err   error
}

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls++
	return w.err
}

func TestFetchWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	waiter := &countingWaiter{}
	f, err := New(Config{Attempts: 1}, waiter, nil)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, waiter.calls)

	blocked := &countingWaiter{err: errors.New("limited")}
	f, err = New(Config{Attempts: 3}, blocked, nil)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, 1, blocked.calls)
}

func TestFetchHonoursCanceledContext(t *testing.T) {
	t.Parallel()

	f, err := New(Config{Attempts: 3, RetryDelay: time.Hour}, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, "http://127.0.0.1:1/unreachable")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsBadProxy(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Proxy: "://bad"}, nil, nil)
	assert.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	var body []byte
	var fetchErr error
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, &body, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("body")})
	assert.Equal(t, "body", string(body))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.Error(t, fetchErr)
	assert.Contains(t, fetchErr.Error(), "502")
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
