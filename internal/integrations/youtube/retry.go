package youtube

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"
)

// RetryConfig controls how transient caption provider failures are retried.
type RetryConfig struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries:  3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     10 * time.Second,
	Multiplier:  2.0,
}

func (rc RetryConfig) wait(attempt int) time.Duration {
	mult := rc.Multiplier
	if mult <= 0 {
		mult = 1
	}
	wait := time.Duration(float64(rc.InitialWait) * math.Pow(mult, float64(attempt)))
	if rc.MaxWait > 0 && wait > rc.MaxWait {
		wait = rc.MaxWait
	}
	return wait
}

// retryDo calls fn until it succeeds, fails with a non-transient error, the
// attempts run out or ctx is done.
func retryDo[T any](ctx context.Context, rc RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= rc.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}

		if attempt < rc.MaxRetries {
			wait := rc.wait(attempt)
			slog.Debug("youtube: retrying", "attempt", attempt+1, "wait", wait, "err", err)
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			}
		}
	}
	return zero, lastErr
}

// retryHTTP runs fn under retryDo, turning retryable status codes into
// errors. Other non-2xx answers are returned as *StatusError without retry.
func retryHTTP(ctx context.Context, rc RetryConfig, fn func() (*http.Response, error)) (*http.Response, error) {
	return retryDo(ctx, rc, func() (*http.Response, error) {
		resp, err := fn()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = resp.Body.Close()
			return nil, &StatusError{StatusCode: resp.StatusCode, URL: resp.Request.URL.Redacted()}
		}
		return resp, nil
	})
}

// StatusError reports a non-2xx answer from the caption provider.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return "youtube: " + http.StatusText(e.StatusCode) + " from " + e.URL
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return isRetryableStatus(statusErr.StatusCode)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
