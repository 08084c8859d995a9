package dispatch

import "time"

// RetryStrategy computes the delay before a retry attempt. Growing the
// delay keeps failing transports from being hammered in a tight loop.
type RetryStrategy interface {
	// NextRetry returns the delay before the given attempt (1-based).
	NextRetry(attempt int) time.Duration
}

// ExponentialBackoff implements exponential delay growth capped at
// MaxDelay.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NextRetry calculates the delay using exponential backoff.
func (s *ExponentialBackoff) NextRetry(attempt int) time.Duration {
	delay := float64(s.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= s.Multiplier
	}
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// DefaultBackoff is the retry strategy used when none is configured.
func DefaultBackoff() RetryStrategy {
	return &ExponentialBackoff{
		InitialDelay: 30 * time.Second,
		MaxDelay:     30 * time.Minute,
		Multiplier:   2.0,
	}
}
