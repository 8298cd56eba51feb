package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/database"
)

// Category classifies a failure so the coordinator can decide between
// retrying and abandoning an account.
type Category string

const (
	CategoryAuth       Category = "auth"
	CategoryNetwork    Category = "network"
	CategoryRateLimit  Category = "rate_limit"
	CategoryParsing    Category = "parsing"
	CategoryValidation Category = "validation"
	CategoryStorage    Category = "storage"
	// CategoryUnknown covers errors no adapter classified, including panics.
	CategoryUnknown Category = "unknown"
)

// Retryable reports whether failures of this category are retried automatically.
func (c Category) Retryable() bool {
	return c == CategoryNetwork || c == CategoryRateLimit
}

// FetchError is a categorized adapter failure. Raw holds any payloads
// received before the failure so they can be retained for inspection.
type FetchError struct {
	Category   Category
	Message    string
	RetryAfter time.Duration
	Raw        []RawDocument
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewAuthError reports invalid or expired credentials.
func NewAuthError(msg string, err error) *FetchError {
	return &FetchError{Category: CategoryAuth, Message: msg, Err: err}
}

// NewNetworkError reports a transient transport failure.
func NewNetworkError(msg string, err error) *FetchError {
	return &FetchError{Category: CategoryNetwork, Message: msg, Err: err}
}

// NewRateLimitError reports throttling. retryAfter is the provider hint, zero if none.
func NewRateLimitError(msg string, retryAfter time.Duration, err error) *FetchError {
	return &FetchError{Category: CategoryRateLimit, Message: msg, RetryAfter: retryAfter, Err: err}
}

// NewParsingError reports a malformed payload and keeps the raw documents.
func NewParsingError(msg string, raw []RawDocument, err error) *FetchError {
	return &FetchError{Category: CategoryParsing, Message: msg, Raw: raw, Err: err}
}

// NewValidationError reports normalized data that breaks a domain rule.
func NewValidationError(msg string, raw []RawDocument, err error) *FetchError {
	return &FetchError{Category: CategoryValidation, Message: msg, Raw: raw, Err: err}
}

// CategoryOf classifies any error returned by an adapter or the writer.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Category
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CategoryNetwork
	case errors.Is(err, apperrors.ErrInvalidSnapshot),
		errors.Is(err, apperrors.ErrMissingAsOf),
		errors.Is(err, apperrors.ErrNegativeQuantity),
		errors.Is(err, apperrors.ErrMissingInstrumentID),
		errors.Is(err, apperrors.ErrInvalidCurrency),
		errors.Is(err, apperrors.ErrNonPositiveRate),
		errors.Is(err, apperrors.ErrExchangeRateNotFound):
		return CategoryValidation
	case errors.Is(err, apperrors.ErrSnapshotConflict),
		errors.Is(err, apperrors.ErrSnapshotFrozen),
		errors.Is(err, apperrors.ErrTradeConflict),
		database.IsSQLiteError(err):
		return CategoryStorage
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}
	return CategoryUnknown
}

// RawOf returns the raw documents attached to a FetchError, if any.
func RawOf(err error) []RawDocument {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Raw
	}
	return nil
}

// MessageOf returns the human readable part of err for error summaries.
func MessageOf(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Err != nil {
			return fe.Message + ": " + fe.Err.Error()
		}
		return fe.Message
	}
	return err.Error()
}
