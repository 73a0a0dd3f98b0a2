package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/liamashdown/polyanalytics/internal/metrics"
	"github.com/liamashdown/polyanalytics/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

// ErrNotAvailable means the upstream gave no usable answer. Callers treat it as a normal outcome.
var ErrNotAvailable = errors.New("not available")

// transientStatuses are retried with backoff; every other non-2xx status is final.
var transientStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

const userAgent = "polyanalytics/1.0"

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// DecodeError is a 2xx response whose body is not valid JSON.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Options configures one upstream API.
type Options struct {
	API        string // metrics label
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Headers    map[string]string
}

// Transport issues gated GET requests against one base URL.
type Transport struct {
	api        string
	client     *resty.Client
	gate       *ratelimit.Gate
	maxRetries int
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	log        *logrus.Logger
}

// New creates a transport. The gate is shared with every other transport of the process.
func New(opts Options, gate *ratelimit.Gate, log *logrus.Logger) *Transport {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent).
		SetHeaders(opts.Headers)

	return &Transport{
		api:        opts.API,
		client:     client,
		gate:       gate,
		maxRetries: max(0, opts.MaxRetries),
		backoff:    opts.Backoff,
		sleep:      sleepContext,
		log:        log,
	}
}

// Get performs a gated GET and decodes the JSON body into out. Connection failures,
// timeouts and transient statuses are retried with doubling backoff; anything else,
// and retry exhaustion, yields an error wrapping ErrNotAvailable.
func (t *Transport) Get(ctx context.Context, path string, query map[string]string, out any) error {
	backoff := t.backoff

	for attempt := 0; ; attempt++ {
		err := t.do(ctx, path, query, out)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		fields := logrus.Fields{
			"api":      t.api,
			"endpoint": path,
			"attempt":  attempt + 1,
		}

		if !Transient(err) {
			t.log.WithError(err).WithFields(fields).Debug("Upstream request failed, not retrying")
			return fmt.Errorf("%w: %v", ErrNotAvailable, err)
		}
		if attempt >= t.maxRetries {
			t.log.WithError(err).WithFields(fields).Error("All retries exhausted")
			return fmt.Errorf("%w: %v", ErrNotAvailable, err)
		}

		t.log.WithError(err).WithFields(fields).WithField("backoff", backoff.String()).
			Warn("Transient upstream failure, retrying")
		metrics.APIRequests.WithLabelValues(t.api, path, "retry").Inc()

		if err := t.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

// GetOnce performs a single gated attempt and returns the raw failure.
func (t *Transport) GetOnce(ctx context.Context, path string, query map[string]string, out any) error {
	return t.do(ctx, path, query, out)
}

func (t *Transport) do(ctx context.Context, path string, query map[string]string, out any) error {
	if err := t.gate.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		metrics.RecordAPIRequest(t.api, path, time.Since(start), "error")
		return fmt.Errorf("execute request: %w", err)
	}

	if !resp.IsSuccess() {
		metrics.RecordAPIRequest(t.api, path, time.Since(start), "error")
		return &StatusError{Code: resp.StatusCode(), Body: truncate(resp.String(), 256)}
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			metrics.RecordAPIRequest(t.api, path, time.Since(start), "error")
			return &DecodeError{Err: err}
		}
	}

	metrics.RecordAPIRequest(t.api, path, time.Since(start), "success")
	return nil
}

// Transient reports whether err is worth retrying: connection failures, timeouts
// and the transient status set.
func Transient(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return transientStatuses[statusErr.Code]
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
