// Package domainerrors carries typed error codes across service boundaries.
//
// Services return *Error values (optionally wrapping an infrastructure cause);
// transports translate the Code into a status and a stable wire identifier.
// Code values are part of the wire contract: the gateway client decodes them
// back into the same codes so the engine sees identical errors in-process and
// over HTTP.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers and transports.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"
	CodeUnavailable        Code = "service_unavailable"
	CodeInternal           Code = "internal_error"

	// Attendance taxonomy.
	CodeLocationPermissionDenied Code = "location_permission_denied"
	CodeLocationUnavailable      Code = "location_unavailable"
	CodeLocationTimeout          Code = "location_timeout"
	CodeLowAccuracy              Code = "low_accuracy"
	CodeNoSiteSelected           Code = "no_site_selected"
	CodeInvalidTransition        Code = "invalid_transition"
	CodePersistenceFailure       Code = "persistence_failure"
	CodeShiftAlreadyOpen         Code = "shift_already_open"
	CodeOutsideGeofence          Code = "outside_geofence"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New creates a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code so errors.Is(err, New(code, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// HasCode reports whether the outermost domain error in the chain has code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost domain error in the chain, or ""
// when err carries no domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Retryable reports whether the caller may reasonably retry the same request.
func (c Code) Retryable() bool {
	switch c {
	case CodeLocationPermissionDenied, CodeLocationUnavailable, CodeLocationTimeout,
		CodeLowAccuracy, CodeNoSiteSelected, CodePersistenceFailure,
		CodeTimeout, CodeUnavailable:
		return true
	}
	return false
}
