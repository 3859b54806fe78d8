package worker

import "time"

// RetryPolicy bounds attempts and spaces retries exponentially.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
}

// DefaultRetryPolicy allows three attempts starting at one minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: time.Minute}
}

// Backoff returns the delay before the attempt following `attempt`: Base*2^(attempt-1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.Base << (attempt - 1)
}

// Exhausted reports whether no attempts remain after `attempt`.
func (p RetryPolicy) Exhausted(attempt, jobMax int) bool {
	limit := p.MaxAttempts
	if jobMax > 0 {
		limit = jobMax
	}
	return attempt >= limit
}
