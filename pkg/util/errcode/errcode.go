// Package errcode defines the session-core error kinds from spec §7 and
// attaches them to errors the way pkg/server/server_controller.go marks
// errors with a sentinel (errors.Mark(err, ErrInvalidTenant)) that
// survives wrapping and can later be tested with errors.Is.
package errcode

import (
	"github.com/cockroachdb/errors"
)

// Code identifies one of the session-core error kinds from spec §7. Each
// Code doubles as the sentinel value passed to errors.Mark/errors.Is.
type Code struct{ name string }

func (c *Code) Error() string { return c.name }

var (
	// ConnectionBroken is raised on any operation against a closed session.
	ConnectionBroken = &Code{"CONNECTION_BROKEN"}
	// TableAlreadyExists is raised when a duplicate temp table name is added.
	TableAlreadyExists = &Code{"TABLE_OR_VIEW_ALREADY_EXISTS"}
	// IndexAlreadyExists is raised when a duplicate temp index name is added.
	IndexAlreadyExists = &Code{"INDEX_ALREADY_EXISTS"}
	// ConstraintAlreadyExists is raised when a duplicate temp constraint name is added.
	ConstraintAlreadyExists = &Code{"CONSTRAINT_ALREADY_EXISTS"}
	// CommitRollbackNotAllowed is raised when commit/rollback is attempted
	// while the commit-disabled flag is set and locks are held.
	CommitRollbackNotAllowed = &Code{"COMMIT_ROLLBACK_NOT_ALLOWED"}
	// StatementCanceled is raised by cancel() or query-timeout expiry.
	StatementCanceled = &Code{"STATEMENT_WAS_CANCELED"}
	// LockTimeout is raised when a lock wait exceeds the session's lockTimeout.
	LockTimeout = &Code{"LOCK_TIMEOUT"}
	// DeserializationFailed is raised on LOB/variable decode failure.
	DeserializationFailed = &Code{"DESERIALIZATION_FAILED"}
	// SerializationFailed is raised on LOB/variable encode failure.
	SerializationFailed = &Code{"SERIALIZATION_FAILED"}
	// InvalidValue is raised for an unknown isolation level or setting value.
	InvalidValue = &Code{"INVALID_VALUE"}
	// AccessDeniedToClass is raised by the user-class policy collaborator.
	AccessDeniedToClass = &Code{"ACCESS_DENIED_TO_CLASS"}
	// ClassNotFound is raised by the user-class policy collaborator.
	ClassNotFound = &Code{"CLASS_NOT_FOUND"}
)

// Mark annotates err with a session-core error code.
func Mark(err error, code *Code) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, code)
}

// Newf creates a new error carrying the given code, formatted like errors.Newf.
func Newf(code *Code, format string, args ...interface{}) error {
	return Mark(errors.Newf(format, args...), code)
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code *Code) bool {
	return errors.Is(err, code)
}
