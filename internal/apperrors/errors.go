package apperrors

import "errors"

// Domain entity errors represent missing or invalid entities in the system.
// These errors indicate that a requested resource does not exist.
var (
	// ErrRunNotFound indicates that a run with the given ID does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrBrokerAccountNotFound indicates that a broker account is not registered.
	ErrBrokerAccountNotFound = errors.New("broker account not found")

	// ErrInstrumentNotFound indicates that an instrument with the given ID does not exist.
	ErrInstrumentNotFound = errors.New("instrument not found")

	// ErrGlobalInstrumentNotFound indicates that a global instrument identity does not exist.
	ErrGlobalInstrumentNotFound = errors.New("global instrument not found")

	// ErrSnapshotNotFound indicates that no snapshot matches the given key.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrExchangeRateNotFound indicates no rate at or before the requested instant
	ErrExchangeRateNotFound = errors.New("exchange rate for currency/date not found")
)

// Business logic errors represent validation failures or constraint violations.
// These errors indicate that an operation cannot be completed due to business rules.
var (
	// ErrNoAccountsConfigured is a caller configuration error: a run needs at least one account.
	ErrNoAccountsConfigured = errors.New("no broker accounts configured")

	// ErrStoreUnavailable indicates the relational store cannot be reached before a run starts.
	ErrStoreUnavailable = errors.New("snapshot store unavailable")

	// ErrUnknownBroker indicates that no adapter is registered for a broker name.
	ErrUnknownBroker = errors.New("unknown broker")

	// ErrMappingExists indicates that an instrument is already mapped and the
	// caller did not ask for an explicit remap.
	ErrMappingExists = errors.New("instrument already mapped")

	// ErrInvalidMappingSource indicates a mapping source outside manual/heuristic/broker.
	ErrInvalidMappingSource = errors.New("invalid mapping source")

	// ErrInvalidUUID indicates that a provided ID is not a valid UUID format.
	ErrInvalidUUID = errors.New("invalid UUID format")

	// ErrInvalidDateRange indicates that the provided date range is invalid
	// (e.g., start date is after end date).
	ErrInvalidDateRange = errors.New("invalid date range")

	// ErrInvalidCurrency indicates a currency code that is not ISO 4217.
	ErrInvalidCurrency = errors.New("invalid currency code")

	// ErrInvalidSnapshot indicates normalized broker data that fails a domain invariant.
	ErrInvalidSnapshot = errors.New("invalid normalized snapshot")

	ErrMissingAsOf          = errors.New("snapshot as-of time is required")
	ErrNegativeQuantity     = errors.New("negative quantity on non-short position")
	ErrMissingInstrumentID  = errors.New("broker instrument id is required")
	ErrInvalidTriggerType   = errors.New("trigger type is required")
	ErrNonPositiveRate      = errors.New("exchange rate must be positive")
	ErrInvalidGlobalPayload = errors.New("global instrument name is required")
)

// Operation failure errors represent system-level failures when retrieving or processing data.
// These errors indicate that an operation failed, but not due to missing entities or validation issues.
var (
	ErrFailedToStartRun       = errors.New("failed to start run")
	ErrFailedToFinalizeRun    = errors.New("failed to finalize run")
	ErrFailedToRetrieveRuns   = errors.New("failed to retrieve runs")
	ErrFailedToCommitSnapshot = errors.New("failed to commit snapshot")
	ErrFailedToBuildTargets   = errors.New("failed to build broker targets")

	// System operation errors
	ErrFailedToGetVersionInfo = errors.New("failed to get version information")

	// FX operation errors
	ErrFailedToRetrieveExchangeRate = errors.New("failed to retrieve exchange rate")
	ErrFailedToUpdateExchangeRate   = errors.New("failed to update exchange rate")
)

// Data integrity errors represent inconsistencies or corruption in the data.
var (
	// ErrSnapshotConflict indicates that a snapshot key already exists with a
	// different local total. The stored row is never overwritten.
	ErrSnapshotConflict = errors.New("snapshot key conflict: stored totals differ")

	// ErrSnapshotFrozen indicates an attempt to change values of a snapshot
	// older than the configured rewrite window.
	ErrSnapshotFrozen = errors.New("snapshot is outside the rewrite window")

	// ErrTradeConflict indicates that a broker trade id is already stored for
	// another broker account.
	ErrTradeConflict = errors.New("trade id belongs to another account")

	// ErrDataInconsistency indicates that the data is in an inconsistent state.
	ErrDataInconsistency = errors.New("data inconsistency detected")
)
