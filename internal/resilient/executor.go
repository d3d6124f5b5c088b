package resilient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/provider"
)

// Deadlines for a single attempt. Locally-hosted providers may be
// compute-bound, so they get double the budget.
const (
	HostedDeadline = 30 * time.Second
	LocalDeadline  = 60 * time.Second
)

// Policy is an injected retry policy value, decoupled from any one
// provider. Backoff receives the 1-based retry attempt number.
type Policy struct {
	MaxRetries  int
	Backoff     func(attempt int) time.Duration
	IsRetryable func(error) bool

	// Sleep is overridable in tests; nil means real context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// IsRetryableError is the default classification: timeouts and
// provider-reported retryable failures (429, 5xx) may succeed later;
// anything else propagates immediately.
func IsRetryableError(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var ue *provider.UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable
	}
	return false
}

// HostedPolicy is exponential backoff for network-attached providers:
// initialDelay * 2^(attempt-1), 1 s initial, up to 3 retries.
func HostedPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Second << (attempt - 1)
		},
		IsRetryable: IsRetryableError,
	}
}

// LocalPolicy is linear backoff for locally-hosted providers:
// initialDelay * attempt, 2 s initial, up to 2 retries. Transient local
// resource contention drains steadily rather than exponentially.
func LocalPolicy() Policy {
	return Policy{
		MaxRetries: 2,
		Backoff: func(attempt int) time.Duration {
			return 2 * time.Second * time.Duration(attempt)
		},
		IsRetryable: IsRetryableError,
	}
}

// For returns the policy and per-attempt deadline for an adapter.
func For(local bool) (Policy, time.Duration) {
	if local {
		return LocalPolicy(), LocalDeadline
	}
	return HostedPolicy(), HostedDeadline
}

// Execute runs fn under the policy: each attempt races a fresh deadline,
// retryable failures sleep and retry sequentially, and the final failure is
// surfaced as an UpstreamError carrying the retryable flag and any
// upstream-provided code/message.
func Execute[T any](ctx context.Context, policy Policy, deadline time.Duration, providerName string, fn func(context.Context) (T, error)) (T, error) {
	sleep := policy.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	var zero T
	var lastErr error

	attempts := policy.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, policy.Backoff(attempt-1)); err != nil {
				return zero, err
			}
			log.Debug().
				Str("provider", providerName).
				Int("attempt", attempt).
				Int("max_attempts", attempts).
				Msg("retrying provider call")
		}

		v, err := Race(ctx, deadline, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !policy.IsRetryable(err) {
			return zero, err
		}
	}

	return zero, asUpstreamError(providerName, lastErr)
}

// asUpstreamError normalizes the terminal failure of an exhausted retry
// loop. Timeouts become a retryable 408-coded upstream error; upstream
// errors pass through with their original code and message.
func asUpstreamError(providerName string, err error) error {
	var ue *provider.UpstreamError
	if errors.As(err, &ue) {
		return ue
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return &provider.UpstreamError{
			Provider:   providerName,
			StatusCode: http.StatusRequestTimeout,
			Code:       "timeout",
			Message:    te.Error(),
			Retryable:  true,
		}
	}
	return err
}
