package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liamashdown/polyanalytics/internal/ratelimit"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc) (*Transport, *[]time.Duration) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	tr := New(Options{
		API:        "test",
		BaseURL:    srv.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 3,
		Backoff:    2 * time.Second,
		Headers:    map[string]string{"X-API-KEY": "k"},
	}, ratelimit.New(0), log)

	var slept []time.Duration
	tr.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return tr, &slept
}

func TestGetRetriesTransientStatuses(t *testing.T) {
	var calls atomic.Int32
	tr, slept := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "k", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "0xabc", r.URL.Query().Get("market"))
		_, _ = w.Write([]byte(`[{"title":"ok"}]`))
	})

	var out []map[string]any
	err := tr.Get(context.Background(), "/trades", map[string]string{"market": "0xabc"}, &out)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *slept)
	require.Len(t, out, 1)
	assert.Equal(t, "ok", out[0]["title"])
}

func TestGetGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	tr, slept := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := tr.Get(context.Background(), "/profiles", nil, nil)
	assert.True(t, errors.Is(err, ErrNotAvailable))
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, *slept)
}

func TestGetDoesNotRetryNonTransient(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}},
		{"bad request", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			tr, slept := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			})

			var out any
			err := tr.Get(context.Background(), "/trades", nil, &out)
			assert.True(t, errors.Is(err, ErrNotAvailable))
			assert.Equal(t, int32(1), calls.Load())
			assert.Empty(t, *slept)
		})
	}
}

func TestGetOnceReturnsRawError(t *testing.T) {
	var calls atomic.Int32
	tr, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	err := tr.GetOnce(context.Background(), "/trades", nil, nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(&StatusError{Code: 500}))
	assert.True(t, Transient(&StatusError{Code: 504}))
	assert.False(t, Transient(&StatusError{Code: 403}))
	assert.False(t, Transient(&DecodeError{Err: errors.New("eof")}))
	assert.True(t, Transient(errors.New("dial tcp: connection refused")))
	assert.False(t, Transient(context.Canceled))
}
