package types

import "errors"

// Error kinds surfaced across package boundaries. Wrap these with
// fmt.Errorf("...: %w", Err...) so callers can classify with errors.Is.
var (
	// ErrInvalidInput marks caller errors (bad topic, malformed request).
	ErrInvalidInput = errors.New("invalid input")

	// ErrProviderUnavailable is returned after a task's fallback chain
	// is exhausted.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderSchemaViolation means a structured call returned
	// non-conforming output after all repair attempts.
	ErrProviderSchemaViolation = errors.New("provider schema violation")

	// ErrExternalService covers literature DB, vector index, and storage
	// failures.
	ErrExternalService = errors.New("external service error")

	// ErrSchemaInvariant marks an internal bug: a data-model invariant
	// was violated.
	ErrSchemaInvariant = errors.New("schema invariant violated")

	// ErrUnknownEntity is returned when an id resolves to nothing.
	ErrUnknownEntity = errors.New("unknown entity")
)
