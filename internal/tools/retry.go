package tools

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/agentc2/wfrt/pkg/schema"
)

// RetryPolicy configures WithRetry. Backoff is "exponential", "linear" or
// "constant"; Delay is the base wait and MaxDelay caps it.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	Backoff     string        `yaml:"backoff" json:"backoff"`
	Delay       time.Duration `yaml:"delay" json:"delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// DefaultRetryPolicy returns three exponential attempts starting at 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: "exponential", Delay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// IsRetryableError classifies whether an error should be retried.
// Network failures and per-attempt deadlines are retried; cancellation and
// errors that describe the request itself are not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrToolNotFound) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if fe, ok := schema.AsFlowError(err); ok {
		switch fe.Code {
		case schema.ErrCodeValidation, schema.ErrCodeDefinition, schema.ErrCodeNotFound,
			schema.ErrCodeConflict, schema.ErrCodeCancelled, schema.ErrCodeCircuitOpen,
			schema.ErrCodeCyclicInvocation, schema.ErrCodeRetryExhausted:
			return false
		}
		if fe.Cause != nil {
			return IsRetryableError(fe.Cause)
		}
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"bad request", "unauthorized", "forbidden", "not found", "unprocessable"} {
		if strings.Contains(msg, p) {
			return false
		}
	}
	return true
}

// ComputeBackoff returns the wait before retry number attempt (0-based).
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}
	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		delay = policy.Delay << min(attempt, 30)
	case "linear":
		delay = policy.Delay * time.Duration(attempt+1)
	default:
		delay = policy.Delay
	}
	if policy.MaxDelay > 0 && (delay > policy.MaxDelay || delay <= 0) {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early if ctx is done.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithRetry re-invokes a tool on retryable errors up to policy.MaxAttempts
// times. When every attempt fails the result is RETRY_EXHAUSTED wrapping
// the last error.
func WithRetry(policy RetryPolicy, logger *slog.Logger) Middleware {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return func(name string, next InvokeFunc) InvokeFunc {
		return func(ctx context.Context, args map[string]any) (any, error) {
			var lastErr error
			for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
				out, err := next(ctx, args)
				if err == nil {
					return out, nil
				}
				lastErr = err
				if !IsRetryableError(err) || ctx.Err() != nil {
					return nil, err
				}
				if attempt == policy.MaxAttempts-1 {
					break
				}
				delay := ComputeBackoff(policy, attempt)
				if logger != nil {
					logger.DebugContext(ctx, "retrying tool",
						slog.String("tool", name), slog.Int("attempt", attempt+1),
						slog.Duration("backoff", delay), slog.String("error", err.Error()))
				}
				if err := WaitForBackoff(ctx, delay); err != nil {
					return nil, lastErr
				}
			}
			if policy.MaxAttempts == 1 {
				return nil, lastErr
			}
			return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
				"tool %q failed after %d attempts: %v", name, policy.MaxAttempts, lastErr).
				WithDetails(map[string]any{"tool": name, "attempts": policy.MaxAttempts}).
				WithCause(lastErr)
		}
	}
}
