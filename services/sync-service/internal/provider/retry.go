package provider

import (
	"context"
	"errors"
	"time"
)

// ErrSyncNotReady is returned when the provider never reports the sync job ready
// within the retry policy.
var ErrSyncNotReady = errors.New("provider sync job not ready")

const (
	DefaultPollInterval    = 1 * time.Second
	DefaultPollMaxAttempts = 120
)

// RetryPolicy bounds the readiness poll of a remote sync job.
// MaxAttempts of 0 polls until the context is done. The zero RetryPolicy
// is replaced by DefaultRetryPolicy.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// DefaultRetryPolicy polls once a second for up to two minutes
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Interval:    DefaultPollInterval,
		MaxAttempts: DefaultPollMaxAttempts,
	}
}

func (p RetryPolicy) withContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Timeout > 0 {
		return context.WithTimeout(ctx, p.Timeout)
	}
	return context.WithCancel(ctx)
}

func (p RetryPolicy) exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

func (p RetryPolicy) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultPollInterval
	}
	return p.Interval
}
