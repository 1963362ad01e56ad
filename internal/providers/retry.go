package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/termagent/internal/errs"
)

// HTTPError is a non-2xx response surfaced as an error so the retry layer
// can decide what to do with it. Body is already provider-prefixed.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter *time.Duration // parsed Retry-After header, nil when absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// RetryConfig tunes RetryDo. Zero values fall back to the defaults.
type RetryConfig struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RetryableStatuses []int

	// OnRetry runs before each backoff sleep. reason is "http_<status>",
	// "rate_limited" or "timeout".
	OnRetry func(attempt int, reason string, delay time.Duration)
}

// DefaultRetryConfig returns the standard 3-retry exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		RetryableStatuses: []int{500, 502, 503},
	}
}

// RetryDo runs fn up to MaxRetries+1 times. A call is retried when it
// failed with a retryable HTTP status, a 429, or a request timeout.
// Non-retryable HTTP errors return immediately. Exhaustion on transport
// errors wraps the last error in RETRY_EXHAUSTED; exhaustion on HTTP
// errors returns the last HTTPError unwrapped so callers still see the
// final status.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		reason, retryable := classifyRetry(err, cfg.RetryableStatuses)
		if !retryable || attempt == cfg.MaxRetries {
			break
		}

		delay := retryDelay(cfg, attempt, err)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, reason, delay)
		}
		slog.Debug("retrying request", "attempt", attempt+1, "reason", reason, "delay", delay)

		if err := sleepCtx(ctx, delay); err != nil {
			return zero, err
		}
	}

	var httpErr *HTTPError
	if errors.As(lastErr, &httpErr) {
		return zero, lastErr
	}
	if errs.CodeOf(lastErr) == errs.CodeFetchTimeout {
		return zero, errs.Wrap(errs.CodeRetryExhausted,
			fmt.Sprintf("request failed after %d attempts: %v", cfg.MaxRetries+1, lastErr), lastErr)
	}
	if isTransportError(lastErr) {
		return zero, errs.Wrap(errs.CodeRetryExhausted,
			fmt.Sprintf("request failed after %d attempts: %v", cfg.MaxRetries+1, lastErr), lastErr)
	}
	return zero, lastErr
}

func classifyRetry(err error, retryable []int) (string, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Status == http.StatusTooManyRequests {
			return "rate_limited", true
		}
		for _, s := range retryable {
			if httpErr.Status == s {
				return fmt.Sprintf("http_%d", httpErr.Status), true
			}
		}
		return fmt.Sprintf("http_%d", httpErr.Status), false
	}
	if errs.CodeOf(err) == errs.CodeFetchTimeout {
		return "timeout", true
	}
	return "error", false
}

// isTransportError reports whether err came from the transport itself
// rather than from validation or encoding on our side.
func isTransportError(err error) bool {
	var coded *errs.Error
	if errors.As(err, &coded) {
		return coded.Code == errs.CodeFetchTimeout
	}
	// net/http wraps dial/TLS/conn errors as *url.Error; treat any
	// remaining non-coded error from fn as transport-class.
	return true
}

// retryDelay computes the backoff before the next attempt: honor a
// Retry-After on 429, otherwise exponential, always capped at MaxDelay.
func retryDelay(cfg RetryConfig, attempt int, err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) &&
		httpErr.Status == http.StatusTooManyRequests && httpErr.RetryAfter != nil {
		d := *httpErr.RetryAfter
		if d < 0 {
			return 0
		}
		if d > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return d
	}
	exp := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if exp > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(exp)
}

// ParseRetryAfter parses a Retry-After header value: delta-seconds or an
// HTTP-date. Unparseable or empty values return nil; past dates clamp to 0.
func ParseRetryAfter(value string) *time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		d := time.Duration(secs) * time.Second
		if d < 0 {
			d = 0
		}
		return &d
	}
	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

// sleepCtx sleeps for d but returns early when ctx is cancelled, so a
// SIGINT never waits out a full backoff.
func sleepCtx(ctx context.Context, d time.Duration) error {
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

// timeoutErr converts a cancellation-class transport error into the
// stable FETCH_TIMEOUT code; other errors pass through unchanged.
func timeoutErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.CodeFetchTimeout, "request timed out", err)
	}
	// url.Error exposes Timeout() for client-side deadlines.
	type timeouter interface{ Timeout() bool }
	var te timeouter
	if errors.As(err, &te) && te.Timeout() {
		return errs.Wrap(errs.CodeFetchTimeout, "request timed out", err)
	}
	return err
}
