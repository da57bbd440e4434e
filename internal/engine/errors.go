package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/agentbus/internal/store"
)

// Error is returned by every Engine operation that fails.
//
// Callers branch on Code; Op and Message are for humans. Err holds the
// underlying cause when there is one.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed (e.g. "register").
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the wrapped cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the unregister target does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInvalidArgument indicates a malformed request. Nothing was written.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeConflict indicates a dedup race that survived one retry.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeStorageUnavailable indicates the store could not complete the call.
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if
// there is none.
func CodeOf(err error) ErrorCode {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsNotFound returns true if the error is a not-found error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsInvalidArgument returns true if the error is an invalid-argument error.
func IsInvalidArgument(err error) bool {
	return CodeOf(err) == ErrCodeInvalidArgument
}

// IsConflict returns true if the error is a conflict error.
func IsConflict(err error) bool {
	return CodeOf(err) == ErrCodeConflict
}

// IsStorageUnavailable returns true if the error is a storage error.
func IsStorageUnavailable(err error) bool {
	return CodeOf(err) == ErrCodeStorageUnavailable
}

func invalidArgument(op, format string, args ...any) *Error {
	return &Error{Code: ErrCodeInvalidArgument, Op: op, Message: fmt.Sprintf(format, args...)}
}

func notFound(op, format string, args ...any) *Error {
	return &Error{Code: ErrCodeNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// fromStore classifies an error returned from a store transaction.
// Engine errors raised inside the transaction pass through unchanged.
func fromStore(op string, err error) error {
	if err == nil {
		return nil
	}

	var ee *Error
	if errors.As(err, &ee) {
		return err
	}

	switch {
	case errors.Is(err, store.ErrConflict):
		return &Error{Code: ErrCodeConflict, Op: op, Message: "concurrent registration won the dedup race", Err: err}
	case errors.Is(err, store.ErrNotFound):
		return &Error{Code: ErrCodeNotFound, Op: op, Message: "not found", Err: err}
	default:
		return &Error{Code: ErrCodeStorageUnavailable, Op: op, Message: "store unavailable", Err: err}
	}
}
