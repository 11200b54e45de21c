// Unified error handling for the knitterd daemon
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package kniterr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code represents the category of a controller error.
type Code string

const (
	// CodeBadRequest marks malformed or out-of-range command fields.
	// Rejected before any mutation takes place.
	CodeBadRequest Code = "BAD_REQUEST"

	// CodeNotFound marks a referenced pattern that is absent in storage.
	CodeNotFound Code = "NOT_FOUND"

	// CodeValidation marks a stored pattern that fails the structural
	// rules (empty step list, missing value, unknown step type) or does
	// not decode at all.
	CodeValidation Code = "VALIDATION"

	// CodeHardwareFault marks a limit-switch trip or motor fault,
	// treated as an emergency.
	CodeHardwareFault Code = "HARDWARE_FAULT"

	// CodeStorageFault marks a persist or read failure; in-memory state
	// remains the source of truth until the next successful persist.
	CodeStorageFault Code = "STORAGE_FAULT"
)

// Error is the unified error type for the controller.
type Error struct {
	// Code is the error category.
	Code Code

	// Message is a human-readable error description.
	Message string

	// Op names the operation that failed (if known).
	Op string

	// Err wraps the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Op, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// SetOp sets the operation name on the error.
func (e *Error) SetOp(op string) *Error {
	e.Op = op
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// BadRequest creates a BAD_REQUEST error.
func BadRequest(format string, args ...interface{}) *Error {
	return Newf(CodeBadRequest, format, args...)
}

// NotFound creates a NOT_FOUND error.
func NotFound(format string, args ...interface{}) *Error {
	return Newf(CodeNotFound, format, args...)
}

// Validation creates a VALIDATION error.
func Validation(format string, args ...interface{}) *Error {
	return Newf(CodeValidation, format, args...)
}

// HardwareFault creates a HARDWARE_FAULT error.
func HardwareFault(format string, args ...interface{}) *Error {
	return Newf(CodeHardwareFault, format, args...)
}

// StorageFault wraps err as a STORAGE_FAULT error.
func StorageFault(err error, message string) *Error {
	return Wrap(err, CodeStorageFault, message)
}

// CodeOf returns the code carried by err, if any.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// HTTPStatus maps an error to the HTTP status returned by the REST
// transport.
func HTTPStatus(err error) int {
	switch c, _ := CodeOf(err); c {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeStorageFault, CodeHardwareFault:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
