package eval

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy yields the delay before a retry.
type BackoffStrategy interface {
	// NextDelay returns the delay for the given attempt number (0-indexed)
	NextDelay(attempt int) time.Duration
}

// ConstantBackoff waits the same delay before every retry.
type ConstantBackoff struct {
	Delay time.Duration
}

func NewConstantBackoff(delay time.Duration) *ConstantBackoff {
	return &ConstantBackoff{Delay: delay}
}

func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	return cb.Delay
}

// LinearBackoff grows the delay by BaseDelay per attempt, capped at MaxDelay.
type LinearBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func NewLinearBackoff(baseDelay, maxDelay time.Duration) *LinearBackoff {
	return &LinearBackoff{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
	}
}

func (lb *LinearBackoff) NextDelay(attempt int) time.Duration {
	return capDelay(float64(lb.BaseDelay)*float64(attempt+1), lb.MaxDelay)
}

// ExponentialBackoff multiplies the delay each attempt. With Jitter the delay
// is scaled by a random factor in [0.5, 1.5) before the MaxDelay cap, so no
// delay ever exceeds MaxDelay.
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     bool
}

func NewExponentialBackoff(baseDelay, maxDelay time.Duration, multiplier float64, jitter bool) *ExponentialBackoff {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return &ExponentialBackoff{
		BaseDelay:  baseDelay,
		Multiplier: multiplier,
		MaxDelay:   maxDelay,
		Jitter:     jitter,
	}
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt))
	if eb.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return capDelay(delay, eb.MaxDelay)
}

// capDelay converts d to a duration no larger than limit. A non-positive
// limit leaves d uncapped.
func capDelay(d float64, limit time.Duration) time.Duration {
	if limit > 0 && d >= float64(limit) {
		return limit
	}
	return time.Duration(d)
}

// BackoffFromConfig builds a strategy by name. "none" and the empty string
// return nil, meaning retry immediately.
func BackoffFromConfig(backoffType string, baseMs int, maxMs int) BackoffStrategy {
	baseDelay := time.Duration(baseMs) * time.Millisecond
	maxDelay := time.Duration(maxMs) * time.Millisecond
	if maxDelay == 0 {
		maxDelay = 30 * time.Second
	}

	switch backoffType {
	case "", "none":
		return nil
	case "constant":
		return NewConstantBackoff(baseDelay)
	case "linear":
		return NewLinearBackoff(baseDelay, maxDelay)
	case "exponential":
		return NewExponentialBackoff(baseDelay, maxDelay, 2.0, true)
	default:
		return nil
	}
}

// ValidBackoff reports whether name is understood by BackoffFromConfig.
func ValidBackoff(name string) bool {
	switch name {
	case "", "none", "constant", "linear", "exponential":
		return true
	}
	return false
}
