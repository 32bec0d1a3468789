// Package apperr defines the error taxonomy shared by the mutation engine,
// the sync engine and their callers. Errors are matched with errors.As via
// the IsXxx predicates rather than string comparison.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input shape or range. It is raised before any
// write happens.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func NewValidationError(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func IsNotFoundError(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// ConflictError reports an operation blocked by existing dependents, such as
// deleting an account that still has transactions.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func NewConflictError(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

func IsConflictError(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// NetworkError reports a sync transport failure. The wrapped cause is
// preserved for logging.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func NewNetworkError(op string, err error) error {
	return &NetworkError{Op: op, Err: err}
}

func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// TimeoutError reports a sync request that exceeded its deadline.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s", e.Op)
}

func NewTimeoutError(op string) error {
	return &TimeoutError{Op: op}
}

func IsTimeoutError(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// SyncConflictError reports that an entity diverged between client and
// server. It is not fatal: the conflict is persisted for explicit resolution.
type SyncConflictError struct {
	EntityType string
	EntityID   string
}

func (e *SyncConflictError) Error() string {
	return fmt.Sprintf("sync conflict on %s %q", e.EntityType, e.EntityID)
}

func NewSyncConflictError(entityType, entityID string) error {
	return &SyncConflictError{EntityType: entityType, EntityID: entityID}
}

func IsSyncConflictError(err error) bool {
	var se *SyncConflictError
	return errors.As(err, &se)
}
