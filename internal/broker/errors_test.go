package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/stretchr/testify/assert"
)

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, ""},
		{"fetch error", NewAuthError("token expired", nil), CategoryAuth},
		{"wrapped fetch error", fmt.Errorf("ibkr: %w", NewRateLimitError("slow down", 0, nil)), CategoryRateLimit},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), CategoryNetwork},
		{"negative quantity", fmt.Errorf("AAPL: %w", apperrors.ErrNegativeQuantity), CategoryValidation},
		{"missing fx rate", apperrors.ErrExchangeRateNotFound, CategoryValidation},
		{"snapshot conflict", apperrors.ErrSnapshotConflict, CategoryStorage},
		{"trade conflict", fmt.Errorf("upsert: %w", apperrors.ErrTradeConflict), CategoryStorage},
		{"unclassified", errors.New("boom"), CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryOf(tt.err))
		})
	}
}

func TestFetchError(t *testing.T) {
	raw := []RawDocument{{Endpoint: "positions", Payload: []byte("<xml")}}
	cause := errors.New("unexpected EOF")
	err := fmt.Errorf("fetch: %w", NewParsingError("invalid statement", raw, cause))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, raw, RawOf(err))
	assert.Equal(t, "invalid statement: unexpected EOF", MessageOf(err))
	assert.Nil(t, RawOf(errors.New("plain")))
	assert.Equal(t, "plain", MessageOf(errors.New("plain")))
	assert.True(t, CategoryNetwork.Retryable())
	assert.True(t, CategoryRateLimit.Retryable())
	assert.False(t, CategoryAuth.Retryable())
	assert.False(t, CategoryParsing.Retryable())
}
