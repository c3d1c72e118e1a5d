// Package resilience wraps calls to external services (the Discord REST API,
// the completion backend) with a per-attempt timeout, bounded retries and
// exponential backoff with jitter.
package resilience

import "time"

// Profile configures how a single external call is retried.
// A Profile is a value type; once attached to a command it is never mutated.
type Profile struct {
	Retries   int           // additional attempts after the first (0 = single attempt)
	BaseDelay time.Duration // delay before the second attempt, doubled each retry
	MaxDelay  time.Duration // upper bound for any single delay
	Timeout   time.Duration // per-attempt timeout (0 = bounded only by the caller's context)
	Jitter    time.Duration // upper bound of the random delay added to each backoff
}

// DefaultProfile is used for any command that does not register its own.
func DefaultProfile() Profile {
	return Profile{
		Retries:   2,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  5 * time.Second,
		Timeout:   10 * time.Second,
		Jitter:    100 * time.Millisecond,
	}
}

// CompletionProfile is the default for completion backend calls.
func CompletionProfile() Profile {
	p := DefaultProfile()
	p.Timeout = 30 * time.Second
	return p
}

// WithRetries returns a copy with Retries set.
func (p Profile) WithRetries(n int) Profile {
	if n < 0 {
		n = 0
	}
	p.Retries = n
	return p
}

// WithTimeout returns a copy with the per-attempt timeout set.
func (p Profile) WithTimeout(d time.Duration) Profile {
	p.Timeout = d
	return p
}

// WithDelays returns a copy with the backoff bounds set.
func (p Profile) WithDelays(base, max time.Duration) Profile {
	p.BaseDelay = base
	p.MaxDelay = max
	return p
}

// WithJitter returns a copy with the jitter bound set.
func (p Profile) WithJitter(d time.Duration) Profile {
	p.Jitter = d
	return p
}

// Attempts is the total number of attempts the profile allows.
func (p Profile) Attempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// Delay returns the wait after failed attempt n (0-indexed):
// min(BaseDelay*2^n + jitter, MaxDelay).
func (p Profile) Delay(attempt int, jitter time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if jitter < 0 {
		jitter = 0
	}

	d := jitter
	if p.BaseDelay > 0 {
		exp := p.BaseDelay << uint(attempt)
		if attempt >= 62 || exp <= 0 || exp>>uint(attempt) != p.BaseDelay {
			// overflowed; only the cap is meaningful now
			exp = p.MaxDelay
			if exp <= 0 {
				exp = time.Duration(1<<63 - 1)
			}
		}
		d = exp + jitter
		if d < exp {
			d = exp
		}
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
