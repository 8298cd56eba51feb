package broker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAdapter returns errs in order and succeeds once they are exhausted.
type scriptedAdapter struct {
	errs  []error
	calls atomic.Int32
	block bool
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Fetch(ctx context.Context, _ model.BrokerAccount) (*broker.FetchResult, error) {
	n := int(a.calls.Add(1)) - 1
	if a.block {
		// Ignores ctx on purpose to prove the timeout does not depend on the adapter.
		time.Sleep(time.Second)
	}
	if n < len(a.errs) {
		return nil, a.errs[n]
	}
	return &broker.FetchResult{}, nil
}

func fastPolicy() broker.Policy {
	return broker.Policy{
		Attempts:     3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		FetchTimeout: 500 * time.Millisecond,
	}
}

// TestFetchWithRetry verifies the retry policy per error category.
//
// WHY: retrying an expired token hammers the broker for nothing, while not
// retrying a dropped connection turns a blip into a failed account.
func TestFetchWithRetry(t *testing.T) {
	ctx := context.Background()
	acct := model.BrokerAccount{Broker: "scripted", BrokerAccountID: "A1"}

	t.Run("network errors are retried until success", func(t *testing.T) {
		a := &scriptedAdapter{errs: []error{
			broker.NewNetworkError("connection reset", nil),
			broker.NewNetworkError("connection reset", nil),
		}}

		res, attempts, err := broker.FetchWithRetry(ctx, fastPolicy(), a, acct)

		require.NoError(t, err)
		assert.NotNil(t, res)
		assert.Equal(t, 3, attempts)
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		a := &scriptedAdapter{errs: []error{
			broker.NewNetworkError("down", nil),
			broker.NewNetworkError("down", nil),
			broker.NewNetworkError("down", nil),
			broker.NewNetworkError("down", nil),
		}}

		_, attempts, err := broker.FetchWithRetry(ctx, fastPolicy(), a, acct)

		require.Error(t, err)
		assert.Equal(t, broker.CategoryNetwork, broker.CategoryOf(err))
		assert.Equal(t, 3, attempts)
	})

	t.Run("auth errors are not retried", func(t *testing.T) {
		a := &scriptedAdapter{errs: []error{broker.NewAuthError("token expired", nil)}}

		_, attempts, err := broker.FetchWithRetry(ctx, fastPolicy(), a, acct)

		assert.Equal(t, broker.CategoryAuth, broker.CategoryOf(err))
		assert.Equal(t, 1, attempts)
	})

	t.Run("parsing errors are not retried", func(t *testing.T) {
		a := &scriptedAdapter{errs: []error{broker.NewParsingError("bad xml", nil, nil)}}

		_, attempts, err := broker.FetchWithRetry(ctx, fastPolicy(), a, acct)

		assert.Equal(t, broker.CategoryParsing, broker.CategoryOf(err))
		assert.Equal(t, 1, attempts)
	})

	t.Run("rate limit waits at least the provider hint", func(t *testing.T) {
		a := &scriptedAdapter{errs: []error{broker.NewRateLimitError("429", 50*time.Millisecond, nil)}}

		start := time.Now()
		_, attempts, err := broker.FetchWithRetry(ctx, fastPolicy(), a, acct)

		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("timeout applies even when adapter ignores context", func(t *testing.T) {
		a := &scriptedAdapter{block: true}
		p := fastPolicy()
		p.Attempts = 1
		p.FetchTimeout = 20 * time.Millisecond

		start := time.Now()
		_, attempts, err := broker.FetchWithRetry(ctx, p, a, acct)

		require.Error(t, err)
		assert.Equal(t, broker.CategoryNetwork, broker.CategoryOf(err))
		assert.Equal(t, 1, attempts)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("panics become unknown errors", func(t *testing.T) {
		_, attempts, err := broker.FetchWithRetry(ctx, fastPolicy(), panicAdapter{}, acct)

		require.Error(t, err)
		assert.Equal(t, broker.CategoryUnknown, broker.CategoryOf(err))
		assert.Contains(t, err.Error(), "adapter panic")
		assert.Equal(t, 1, attempts)
	})
}

type panicAdapter struct{}

func (panicAdapter) Name() string { return "panic" }

func (panicAdapter) Fetch(context.Context, model.BrokerAccount) (*broker.FetchResult, error) {
	panic("nil map")
}
