// Package retry implements the exponential-backoff retry policy and
// retryable/fatal error taxonomy shared by every upstream call.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

// RetryableStatusCodes are HTTP statuses worth retrying.
var RetryableStatusCodes = map[int]bool{
	408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

// FatalStatusCodes are HTTP statuses that should never be retried.
var FatalStatusCodes = map[int]bool{
	400: true, 401: true, 403: true, 404: true, 422: true,
}

// IsRetryableStatus reports whether code should trigger a retry.
func IsRetryableStatus(code int) bool { return RetryableStatusCodes[code] }

// IsFatalStatus reports whether code should never be retried.
func IsFatalStatus(code int) bool { return FatalStatusCodes[code] }

// IsRetryableErr reports whether err looks like a transient transport
// failure (timeout, connection reset, read error) rather than a permanent
// one.
func IsRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Exhausted is returned when max_attempts is reached without success.
type Exhausted struct {
	Attempts int
	Last     error
}

func (e *Exhausted) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *Exhausted) Unwrap() error { return e.Last }

// Policy configures the backoff schedule.
type Policy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	ExponentialBase float64
	MaxDelay        time.Duration
}

// DefaultPolicy mirrors the spec's default backoff parameters.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		BaseDelay:       500 * time.Millisecond,
		ExponentialBase: 2.0,
		MaxDelay:        30 * time.Second,
	}
}

// Delay computes the sleep duration before attempt n (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// StatusError carries an HTTP status code so Do can classify it without a
// network-library-specific error type.
type StatusError struct {
	Code       int
	RetryAfter time.Duration // zero if the response carried none
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// Do runs fn under the policy, retrying on retryable transport errors and
// retryable StatusErrors. Fatal errors (context cancellation, FatalStatusCodes,
// or any error not recognized as retryable) return immediately.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			if IsFatalStatus(statusErr.Code) {
				return err
			}
			if !IsRetryableStatus(statusErr.Code) {
				return err
			}
			delay := p.Delay(attempt)
			if statusErr.RetryAfter > delay {
				delay = statusErr.RetryAfter
			}
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		if !IsRetryableErr(err) {
			return err
		}
		if !sleep(ctx, p.Delay(attempt)) {
			return ctx.Err()
		}
	}
	return &Exhausted{Attempts: p.MaxAttempts, Last: lastErr}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
