package eval

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy controls how malformed output is retried. The zero value
// retries forever without delay.
type RetryPolicy struct {
	// MaxRetries bounds retries per combination. 0 means unlimited.
	MaxRetries int
	// Backoff is consulted before each retry. nil retries immediately.
	Backoff BackoffStrategy
}

// Unlimited reports whether the policy never gives up.
func (p RetryPolicy) Unlimited() bool {
	return p.MaxRetries <= 0
}

// Retrier re-invokes an Evaluator on the same combination while it returns
// malformed output. Any other error is returned unchanged.
type Retrier struct {
	next    Evaluator
	policy  RetryPolicy
	logger  *slog.Logger
	onRetry func(attempt int, err error)
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithRetryLogger sets the logger used for debug-level retry records.
func WithRetryLogger(logger *slog.Logger) RetrierOption {
	return func(r *Retrier) {
		r.logger = logger
	}
}

// OnRetry registers a hook called before every retry.
func OnRetry(fn func(attempt int, err error)) RetrierOption {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// NewRetrier wraps next with the given policy.
func NewRetrier(next Evaluator, policy RetryPolicy, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		next:   next,
		policy: policy,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Evaluate implements Evaluator.
func (r *Retrier) Evaluate(ctx context.Context, args []Arg) (float64, error) {
	for attempt := 0; ; attempt++ {
		value, err := r.next.Evaluate(ctx, args)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrMalformedOutput) {
			return 0, err
		}
		if !r.policy.Unlimited() && attempt >= r.policy.MaxRetries {
			return 0, err
		}

		r.logger.Debug("Retrying evaluation", "attempt", attempt+1, "error", err)
		if r.onRetry != nil {
			r.onRetry(attempt, err)
		}

		if r.policy.Backoff != nil {
			if err := sleep(ctx, r.policy.Backoff.NextDelay(attempt)); err != nil {
				return 0, err
			}
		} else if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
