// LOCATION: internal/errors/errors.go
// VERSION: 2.0 - Consolidated error definitions for the entire project
//
// This file provides:
// - Process exit codes for CLI commands
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Typed errors carrying structured detail (lock owner, space, verification)
// - A collector for multi-error validation results

package errors

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// Process exit codes - returned by CLI commands on failure
// ============================================================================

const (
	CodeOK            int = 0
	CodeInternal      int = 1
	CodeInvalidInput  int = 2
	CodeLocked        int = 3
	CodeNotFound      int = 4
	CodeCorruption    int = 5
	CodeNoSpace       int = 6
	CodeVerification  int = 7
	CodeSchema        int = 8
	CodePartialUpdate int = 9
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Not found errors. The specific sentinels wrap ErrNotFound, so a single
	// errors.Is(err, ErrNotFound) covers the whole category.
	ErrNotFound       = errors.New("not found")
	ErrSymbolNotFound = fmt.Errorf("symbol %w", ErrNotFound)
	ErrPlanNotFound   = fmt.Errorf("migration plan %w", ErrNotFound)
	ErrNoData         = errors.New("no data for symbol")

	// Already exists errors, wrapping ErrAlreadyExists the same way.
	ErrAlreadyExists       = errors.New("already exists")
	ErrSymbolAlreadyExists = fmt.Errorf("symbol %w", ErrAlreadyExists)
	ErrPlanAlreadyExists   = fmt.Errorf("migration plan %w", ErrAlreadyExists)

	// Validation errors
	ErrInvalidSymbol   = errors.New("invalid symbol")
	ErrInvalidMarket   = errors.New("invalid market")
	ErrInvalidSource   = errors.New("invalid source")
	ErrInvalidInterval = errors.New("invalid interval")
	ErrInvalidConfig   = errors.New("invalid configuration")

	// Storage errors
	ErrCorruptedPartition = errors.New("corrupted partition")
	ErrSchemaViolation    = errors.New("schema violation")
	ErrInsufficientSpace  = errors.New("insufficient disk space")
	ErrLegacyOnlyInterval = errors.New("interval is stored in legacy layout only")

	// Migration errors
	ErrVerificationMismatch = errors.New("verification mismatch")
	ErrMigrationIncomplete  = errors.New("migration incomplete")

	// Lock errors
	ErrWorkspaceLocked = errors.New("workspace is locked by another process")
	ErrNotLocked       = errors.New("workspace is not locked")
	ErrLockOwnerAlive  = errors.New("lock owner is still alive")

	// Registry / scheduling errors
	ErrRegistryVersion = errors.New("unsupported registry version")
	ErrPartialUpdate   = errors.New("update pass completed with failures")

	// Query errors
	ErrDatabase = errors.New("database error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoData)
}

// IsAlreadyExists returns true if err is an already-exists error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidSymbol) ||
		errors.Is(err, ErrInvalidMarket) ||
		errors.Is(err, ErrInvalidSource) ||
		errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsLockContention returns true if err indicates the workspace lock is held.
func IsLockContention(err error) bool {
	return errors.Is(err, ErrWorkspaceLocked)
}

// IsTransientFetch returns true if err is a fetch failure that does not prove
// the symbol is gone. Definitive absence is ErrNoData; everything else coming
// out of a fetch client is treated as transient.
func IsTransientFetch(err error) bool {
	return err != nil && !errors.Is(err, ErrNoData)
}

// ============================================================================
// Error to exit code mapping
// ============================================================================

// ErrorToCode maps an error to its process exit code.
func ErrorToCode(err error) int {
	if err == nil {
		return CodeOK
	}

	switch {
	case IsLockContention(err):
		return CodeLocked

	case IsValidation(err):
		return CodeInvalidInput

	case IsNotFound(err):
		return CodeNotFound

	case Is(err, ErrCorruptedPartition):
		return CodeCorruption

	case Is(err, ErrInsufficientSpace):
		return CodeNoSpace

	case Is(err, ErrVerificationMismatch), Is(err, ErrMigrationIncomplete):
		return CodeVerification

	case Is(err, ErrSchemaViolation):
		return CodeSchema

	case Is(err, ErrPartialUpdate):
		return CodePartialUpdate

	// Default to internal
	default:
		return CodeInternal
	}
}

// ============================================================================
// Typed errors with structured detail
// ============================================================================

// LockHeldError reports who holds the workspace lock.
// It unwraps to ErrWorkspaceLocked so errors.Is keeps working.
type LockHeldError struct {
	Path      string
	PID       int
	Hostname  string
	RunID     string
	StartedAt time.Time
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("workspace locked by pid %d on %s since %s (run %s)",
		e.PID, e.Hostname, e.StartedAt.Format(time.RFC3339), e.RunID)
}

func (e *LockHeldError) Unwrap() error { return ErrWorkspaceLocked }

// SpaceError reports a failed disk-space pre-check.
// It unwraps to ErrInsufficientSpace.
type SpaceError struct {
	Path      string
	Required  uint64
	Available uint64
}

func (e *SpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: need %d bytes, have %d",
		e.Path, e.Required, e.Available)
}

func (e *SpaceError) Unwrap() error { return ErrInsufficientSpace }

// VerificationError reports a row-count or checksum mismatch between the
// legacy and partitioned representation of one series.
// It unwraps to ErrVerificationMismatch.
type VerificationError struct {
	Symbol         string
	Interval       string
	LegacyRows     int64
	PartRows       int64
	LegacyChecksum uint64
	PartChecksum   uint64
}

func (e *VerificationError) Error() string {
	if e.LegacyRows != e.PartRows {
		return fmt.Sprintf("verification mismatch for %s %s: legacy has %d rows, partitioned has %d",
			e.Symbol, e.Interval, e.LegacyRows, e.PartRows)
	}
	return fmt.Sprintf("verification mismatch for %s %s: checksum %x != %x",
		e.Symbol, e.Interval, e.LegacyChecksum, e.PartChecksum)
}

func (e *VerificationError) Unwrap() error { return ErrVerificationMismatch }

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
