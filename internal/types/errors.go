package types

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// Sentinel errors for the core taxonomy. Callers classify with errors.Is;
// producers wrap with fmt.Errorf("...: %w", ...) so the chain keeps context.
var (
	// ErrNotFound: session/document/ticket absent. Recoverable, the caller
	// re-initiates. An expired session surfaces as ErrNotFound too.
	ErrNotFound = errors.New("not found")

	// ErrConflict: duplicate escalation or terminal-state violation.
	// Recoverable, the caller is told the current state.
	ErrConflict = errors.New("conflict")

	// ErrValidation: malformed input, rejected before any mutation.
	ErrValidation = errors.New("validation error")

	// ErrStorageUnavailable: a backing store is unreachable. Retried with
	// backoff at the boundary; audit writes are queued, never dropped.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrFatal: operator-visible and not auto-recovered (counter exhausted,
	// corrupted corpus index).
	ErrFatal = errors.New("fatal")
)

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Conflictf wraps ErrConflict with context.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// Validationf wraps ErrValidation with context.
func Validationf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// StorageUnavailablef wraps ErrStorageUnavailable with context.
func StorageUnavailablef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrStorageUnavailable)...)
}

// Fatalf wraps ErrFatal with context.
func Fatalf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrFatal)...)
}

// IsRetryable reports whether an operation may succeed if repeated: storage
// outages are retryable, everything else in the taxonomy is not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
