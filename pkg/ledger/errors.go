package ledger

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// InvalidTransitionError reports a transition request whose (from, to) edge is
// not declared in the kind's graph, or that names an undeclared status.
// Client-caused; retrying the same request will fail the same way.
type InvalidTransitionError struct {
	Kind EntityKind
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: no edge from %q to %q", e.Kind, e.From, e.To)
}

// ExclusivityViolationError reports that another entity already holds an
// exclusive status within the same scope. ExistingID identifies the holder so
// the caller can report it.
type ExclusivityViolationError struct {
	Kind       EntityKind
	Status     Status
	ScopeKey   string
	ExistingID string
}

func (e *ExclusivityViolationError) Error() string {
	return fmt.Sprintf("exclusivity violation: %s %q in scope %q is held by entity %s",
		e.Kind, e.Status, e.ScopeKey, e.ExistingID)
}

// NotFoundError reports that an entity (by id) or a natural key does not
// exist.
type NotFoundError struct {
	Kind       EntityKind
	ID         string
	NaturalKey string
}

func (e *NotFoundError) Error() string {
	if e.NaturalKey != "" {
		return fmt.Sprintf("%s with natural key %q not found", e.Kind, e.NaturalKey)
	}
	return fmt.Sprintf("entity %s not found", e.ID)
}

// UnknownKindError reports an entity kind with no registered definition.
type UnknownKindError struct {
	Kind EntityKind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown entity kind %q", e.Kind)
}

// DeleteNotPermittedError reports a soft-delete attempt from a status that is
// not declared deletable for the kind. Entities past their initial status are
// archived via transitions, never deleted.
type DeleteNotPermittedError struct {
	Kind   EntityKind
	ID     string
	Status Status
}

func (e *DeleteNotPermittedError) Error() string {
	return fmt.Sprintf("entity %s (%s) cannot be deleted from status %q", e.ID, e.Kind, e.Status)
}

// StorageError wraps an unexpected fault from the underlying store. The
// transaction it occurred in has been rolled back completely, so the caller
// may retry the whole operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryable reports whether the error is infrastructure-caused and safe to
// retry as-is. Invalid transitions and exclusivity conflicts are
// client-caused and return false.
func IsRetryable(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// isLedgerError reports whether err is one of the ledger's structured error
// types, which must cross the component boundary unwrapped.
func isLedgerError(err error) bool {
	var (
		it *InvalidTransitionError
		ev *ExclusivityViolationError
		nf *NotFoundError
		uk *UnknownKindError
		dn *DeleteNotPermittedError
		se *StorageError
	)
	return errors.As(err, &it) || errors.As(err, &ev) || errors.As(err, &nf) ||
		errors.As(err, &uk) || errors.As(err, &dn) || errors.As(err, &se)
}

// isUniqueViolation reports whether err is a uniqueness-constraint conflict.
// GORM translates these to ErrDuplicatedKey when the dialector supports error
// translation; the string checks cover dialects that do not.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // SQLite
		strings.Contains(msg, "duplicate key value violates unique constraint") || // PostgreSQL
		strings.Contains(msg, "Error 1062") // MySQL
}
