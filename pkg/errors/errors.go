// Package errors defines the error taxonomy of the execution core.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Code classifies an execution error.
type Code int

const (
	CodeOK Code = iota
	// SchemaError: unknown table or column, duplicate definitions.
	SchemaError
	// TypeError: a literal cannot be coerced or compared.
	TypeError
	// StorageError: the durable substrate failed.
	StorageError
	// CacheCorruption is recovered internally and only logged.
	CacheCorruption
	// PolicyPersistenceError is recovered internally and only logged.
	PolicyPersistenceError
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case SchemaError:
		return "SchemaError"
	case TypeError:
		return "TypeError"
	case StorageError:
		return "StorageError"
	case CacheCorruption:
		return "CacheCorruption"
	case PolicyPersistenceError:
		return "PolicyPersistenceError"
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// ParseCode is the inverse of Code.String.
func ParseCode(s string) (Code, bool) {
	for c := CodeOK; c <= PolicyPersistenceError; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return CodeOK, false
}

// Error carries enough context for a caller to correct input or decide on
// remediation after a partial multi-row write.
type Error struct {
	Code    Code
	Message string
	Table   string
	Column  string
	Value   string

	// Completed and Planned are set for multi-row mutations that failed
	// part way through.
	Completed int
	Planned   int

	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Code == StorageError && e.Planned > 0 {
		fmt.Fprintf(&b, " (completed %d of %d)", e.Completed, e.Planned)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func Schemaf(table, column, format string, args ...interface{}) *Error {
	return &Error{
		Code:    SchemaError,
		Message: fmt.Sprintf(format, args...),
		Table:   table,
		Column:  column,
	}
}

func Typef(table, column, value, format string, args ...interface{}) *Error {
	return &Error{
		Code:    TypeError,
		Message: fmt.Sprintf(format, args...),
		Table:   table,
		Column:  column,
		Value:   value,
	}
}

// Storage wraps a substrate failure. completed/planned describe how far a
// multi-row mutation got; pass 0, 0 for single operations.
func Storage(table string, completed, planned int, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Code:      StorageError,
		Message:   fmt.Sprintf(format, args...),
		Table:     table,
		Completed: completed,
		Planned:   planned,
		Cause:     cause,
	}
}

func Corruption(code Code, path string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf("unreadable state file %s", path),
		Cause:   cause,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeOK.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeOK
}

func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// As is errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := stderrors.As(err, &e)
	return e, ok
}
