// internal/probe/retrychecker.go
package probe

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryChecker retries a failing check with exponential backoff. It is
// meant for the heartbeat ping; the DNS monitor never retries in a cycle.
type RetryChecker struct {
	Inner    Checker
	Attempts int
	Backoff  time.Duration // initial interval
}

func (r *RetryChecker) Check(ctx context.Context, target string) CheckResult {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.Backoff
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(attempts-1))
	if r.Backoff <= 0 {
		b = backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(attempts-1))
	}
	b = backoff.WithContext(b, ctx)

	var last CheckResult
	n := 0
	_ = backoff.Retry(func() error {
		n++
		last = r.Inner.Check(ctx, target)
		if last.Success {
			return nil
		}
		return errCheckFailed
	}, b)

	if !last.Success && n > 1 {
		// annotate message so you can see it was a retry series
		last.Message = last.Message + " (after retries)"
	}
	return last
}

var errCheckFailed = errors.New("check failed")
