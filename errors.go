package odb

import (
	"errors"
	"fmt"
)

// ErrTxClosed is returned by any operation on a committed or rolled back
// transaction.
var ErrTxClosed = errors.New("transaction closed")

// ValidationError reports a value that the caller supplied and that failed
// field-type validation. The transaction remains usable; fix the input and
// retry the write.
type ValidationError struct {
	Field uint32
	Msg   string
	Err   error
}

func validationErrf(field uint32, err error, format string, args ...any) error {
	return &ValidationError{field, fmt.Sprintf(format, args...), err}
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Error() string {
	var prefix string
	if e.Field != 0 {
		prefix = fmt.Sprintf("field %d: ", e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s%s: %v", prefix, e.Msg, e.Err)
	}
	return prefix + e.Msg
}

// NotFoundError reports an operation on an ObjId with no live object.
type NotFoundError struct {
	Id ObjId
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object %v not found", e.Id)
}

// ConfigError reports an invalid schema or field type configuration. These
// are fatal at startup and abort database construction.
type ConfigError struct {
	Msg string
}

func configErrf(format string, args ...any) error {
	return &ConfigError{fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string { return e.Msg }

// InconsistencyError reports stored bytes that cannot be decoded under the
// field type registered for that storage id. This is fatal and never
// recoverable: it means an encoding signature check was bypassed, or the
// stored data predates a silent type change. It aborts the transaction.
type InconsistencyError struct {
	Id    ObjId
	Field uint32
	Data  []byte
	Err   error
}

func inconsistencyErrf(id ObjId, field uint32, data []byte, err error) error {
	return &InconsistencyError{id, field, data, err}
}

func (e *InconsistencyError) Unwrap() error { return e.Err }

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("inconsistent data for object %v field %d: %v: %s", e.Id, e.Field, e.Err, hexstr(e.Data))
}

// ConflictError reports that the underlying store detected a write conflict
// at commit. The transaction has been rolled back; the whole unit of work is
// safe to retry.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Unwrap() error { return e.Err }

func (e *ConflictError) Error() string {
	return fmt.Sprintf("commit conflict (retryable): %v", e.Err)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsInconsistency(err error) bool {
	var e *InconsistencyError
	return errors.As(err, &e)
}

// IsRetryable reports whether the failed operation can be safely retried in
// a fresh transaction.
func IsRetryable(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}
