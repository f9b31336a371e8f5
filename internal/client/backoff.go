package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds automatic reconnection. After the n-th consecutive
// failure the next attempt waits Base + n*Step; after MaxAttempts failures the
// controller gives up.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Step        time.Duration
}

// DefaultRetryPolicy gives up after three failures, waiting 3s then 5s.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Base: time.Second, Step: 2 * time.Second}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.Base <= 0 {
		p.Base = DefaultRetryPolicy.Base
	}
	if p.Step < 0 {
		p.Step = 0
	}
	return p
}

// backOff returns a fresh policy; NextBackOff yields backoff.Stop once the
// retry budget is spent.
func (p RetryPolicy) backOff() backoff.BackOff {
	p = p.withDefaults()
	if p.MaxAttempts == 1 {
		// WithMaxRetries treats zero as unlimited.
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(&linearBackOff{base: p.Base, step: p.Step}, uint64(p.MaxAttempts-1))
}

type linearBackOff struct {
	base, step time.Duration
	failures   int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.failures++
	return b.base + time.Duration(b.failures)*b.step
}

func (b *linearBackOff) Reset() {
	b.failures = 0
}
