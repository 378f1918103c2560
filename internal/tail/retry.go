package tail

import (
	"fmt"
	"time"
)

const (
	// DefaultInterval is the pause between two polls of the same stream.
	DefaultInterval = 5 * time.Second
	// DefaultMaxAttempts is the number of consecutive failures a stream
	// tolerates before it gives up.
	DefaultMaxAttempts = 60
	// DefaultMessageEvery controls how often a "still waiting" line is written.
	DefaultMessageEvery = 10
	// DefaultFetchTimeout bounds a single fetch.
	DefaultFetchTimeout = 30 * time.Second
)

// Budget is the consecutive-failure counter of a stream.
type Budget struct {
	max       int
	remaining int
}

// NewBudget returns a full budget of max attempts. A non-positive max falls
// back to DefaultMaxAttempts.
func NewBudget(max int) Budget {
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return Budget{max: max, remaining: max}
}

// Max returns the configured maximum.
func (b *Budget) Max() int { return b.max }

// Remaining returns the attempts left before exhaustion.
func (b *Budget) Remaining() int { return b.remaining }

// Failures returns the number of consecutive failures consumed so far.
func (b *Budget) Failures() int { return b.max - b.remaining }

// Reset refills the budget after a successful fetch.
func (b *Budget) Reset() { b.remaining = b.max }

// Consume spends one attempt and reports whether the budget is now empty.
func (b *Budget) Consume() bool {
	if b.remaining > 0 {
		b.remaining--
	}
	return b.remaining == 0
}

// Exhaust empties the budget at once.
func (b *Budget) Exhaust() { b.remaining = 0 }

// Exhausted reports whether no attempts remain.
func (b *Budget) Exhausted() bool { return b.remaining == 0 }

// RetryMessageFunc returns the informational line written after a retryable
// failure, or "" to stay quiet. failures counts consecutive failures so far.
type RetryMessageFunc func(name string, failures, max int) string

// EveryNth returns a RetryMessageFunc that speaks up once every n failures.
func EveryNth(n int) RetryMessageFunc {
	return func(name string, failures, max int) string {
		if n <= 0 || failures == 0 || failures%n != 0 {
			return ""
		}
		return fmt.Sprintf("Waiting for %s... (%d of %d attempts)\n", name, failures, max)
	}
}

// ExhaustedMessageFunc returns the terminal line written when a stream gives
// up. err is the last error seen.
type ExhaustedMessageFunc func(name string, err error) string

// DefaultExhaustedMessage reports the last error to the user.
func DefaultExhaustedMessage(name string, err error) string {
	if err == nil {
		return fmt.Sprintf("Stopped tailing %s.\n", name)
	}
	return fmt.Sprintf("Stopped tailing %s: %v\n", name, err)
}

// RetryPolicy decides what a failed fetch means for a stream.
type RetryPolicy struct {
	MaxAttempts int
	Classify    func(error) Class
	Retry       RetryMessageFunc
	Exhausted   ExhaustedMessageFunc
}

// DefaultRetryPolicy returns the unified retry budget used for every stream.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Classify:    Classify,
		Retry:       EveryNth(DefaultMessageEvery),
		Exhausted:   DefaultExhaustedMessage,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Classify == nil {
		p.Classify = d.Classify
	}
	if p.Retry == nil {
		p.Retry = d.Retry
	}
	if p.Exhausted == nil {
		p.Exhausted = d.Exhausted
	}
	return p
}
