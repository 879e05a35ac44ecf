package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoTarget is returned when no page file or URL was given.
	ErrNoTarget = errors.New("no target specified: provide an HTML file or a URL")

	// ErrInvalidDebounce is returned for a negative debounce window.
	// Zero selects the default.
	ErrInvalidDebounce = errors.New("invalid debounce: must be non-negative")

	// ErrInvalidThrottle is returned for a negative throttle interval.
	ErrInvalidThrottle = errors.New("invalid throttle: must be non-negative")

	// ErrInvalidScrollSettle is returned for a negative scroll settle delay.
	ErrInvalidScrollSettle = errors.New("invalid scroll settle delay: must be non-negative")

	// ErrInvalidReconcile is returned for a negative reconcile interval.
	ErrInvalidReconcile = errors.New("invalid reconcile interval: must be non-negative")

	// ErrInvalidMutationLimit is returned when the mutation budget is not positive.
	ErrInvalidMutationLimit = errors.New("invalid mutation limit: must be positive")

	// ErrInvalidConcurrency is returned when the batch concurrency is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidMinActive is returned for a negative minimum active count.
	ErrInvalidMinActive = errors.New("invalid minimum active count: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and --markdown are set.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidMaxBodySize is returned for a negative download size limit.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidPollInterval is returned for a negative live poll interval.
	ErrInvalidPollInterval = errors.New("invalid poll interval: must be non-negative")
)
