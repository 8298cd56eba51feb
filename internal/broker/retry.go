package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/sethvargo/go-retry"
)

// Policy bounds how an adapter call is attempted.
type Policy struct {
	// Attempts is the total number of fetch attempts, including the first.
	Attempts     int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	FetchTimeout time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:     3,
		BaseDelay:    2 * time.Second,
		MaxDelay:     30 * time.Second,
		FetchTimeout: 60 * time.Second,
	}
}

func (p Policy) backoff(hint *time.Duration) retry.Backoff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}

	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	b = retry.WithMaxRetries(uint64(attempts-1), b)

	return retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := b.Next()
		if stop {
			return 0, true
		}
		if *hint > next {
			next = *hint
		}
		*hint = 0
		return next, false
	})
}

// FetchWithRetry calls a.Fetch under the policy. Network and rate-limit
// failures are retried with exponential backoff, and a rate-limit retry
// waits at least the provider's hint. Every other category fails
// immediately. Each attempt is bounded by FetchTimeout even when the
// adapter ignores its context; a timed out attempt counts as a network
// failure. The number of attempts made is returned alongside the result.
func FetchWithRetry(ctx context.Context, p Policy, a Adapter, account model.BrokerAccount) (*FetchResult, int, error) {
	var (
		result   *FetchResult
		lastErr  error
		attempts int
		hint     time.Duration
	)

	err := retry.Do(ctx, p.backoff(&hint), func(ctx context.Context) error {
		attempts++
		res, err := fetchOnce(ctx, p.FetchTimeout, a, account)
		if err == nil {
			result = res
			return nil
		}
		lastErr = err

		var fe *FetchError
		if errors.As(err, &fe) && fe.Category == CategoryRateLimit {
			hint = fe.RetryAfter
		}
		if CategoryOf(err).Retryable() {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return result, attempts, nil
	}

	// Cancellation of the run context while waiting to retry.
	if ctx.Err() != nil && lastErr != nil && errors.Is(err, ctx.Err()) {
		return nil, attempts, NewNetworkError("fetch abandoned", errors.Join(lastErr, err))
	}
	return nil, attempts, err
}

func fetchOnce(ctx context.Context, timeout time.Duration, a Adapter, account model.BrokerAccount) (*FetchResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		res *FetchResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &FetchError{Category: CategoryUnknown, Message: fmt.Sprintf("adapter panic: %v", r)}}
			}
		}()
		res, err := a.Fetch(ctx, account)
		if err == nil && res == nil {
			err = NewParsingError("adapter returned no result", nil, nil)
		}
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			var fe *FetchError
			if !errors.As(o.err, &fe) {
				return nil, NewNetworkError(fmt.Sprintf("fetch timed out after %s", timeout), o.err)
			}
		}
		return o.res, o.err
	case <-ctx.Done():
		return nil, NewNetworkError(fmt.Sprintf("fetch timed out after %s", timeout), ctx.Err())
	}
}
