/*
Copyright 2026 The Mahavishnu Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors provides the structured error type shared by every
// orchestrator component. Components surface one of a fixed set of error
// kinds rather than ad-hoc error strings, so callers at the gateway boundary
// can map failures to wire error codes and HTTP status codes uniformly.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType is one of the orchestrator's error kinds (see spec §7).
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeCycle      ErrorType = "cycle_detected"
	ErrorTypeDuplicate  ErrorType = "duplicate_resource"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeCapacity   ErrorType = "capacity_exceeded"
	ErrorTypeTransient  ErrorType = "transient"
	ErrorTypeCallback   ErrorType = "callback"
	ErrorTypeProtocol   ErrorType = "protocol"
	ErrorTypeInternal   ErrorType = "internal"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation: http.StatusBadRequest,
	ErrorTypeCycle:      http.StatusConflict,
	ErrorTypeDuplicate:  http.StatusConflict,
	ErrorTypeNotFound:   http.StatusNotFound,
	ErrorTypeCapacity:   http.StatusTooManyRequests,
	ErrorTypeTransient:  http.StatusServiceUnavailable,
	ErrorTypeCallback:   http.StatusInternalServerError,
	ErrorTypeProtocol:   http.StatusBadRequest,
	ErrorTypeInternal:   http.StatusInternalServerError,
}

// AppError is the structured error carried across every component boundary.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error

	// CyclePath carries the witness path for ErrorTypeCycle errors: the
	// sequence of task ids forming the rejected cycle.
	CyclePath []string
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails mutates and returns the same error, so chained construction
// (`New(...).WithDetails(...)`) does not allocate twice.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// WithCyclePath attaches a witness path to a cycle-detected error.
func (e *AppError) WithCyclePath(path []string) *AppError {
	e.CyclePath = path
	return e
}

func New(errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCodes[errType],
	}
}

func Wrap(cause error, errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCodes[errType],
		Cause:      cause,
	}
}

func Wrapf(cause error, errType ErrorType, format string, args ...any) *AppError {
	return Wrap(cause, errType, fmt.Sprintf(format, args...))
}

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewCycleError(path []string) *AppError {
	return New(ErrorTypeCycle, "dependency edge would create a blocking cycle").WithCyclePath(path)
}

func NewDuplicateError(resource string) *AppError {
	return New(ErrorTypeDuplicate, fmt.Sprintf("%s already exists", resource))
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewCapacityError(resource string) *AppError {
	return New(ErrorTypeCapacity, fmt.Sprintf("%s is at capacity", resource))
}

func NewTransientError(op string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeTransient, "transient failure during %s", op)
}

func NewCallbackError(cause error) *AppError {
	return Wrap(cause, ErrorTypeCallback, "retry callback failed")
}

func NewProtocolError(message string) *AppError {
	return New(ErrorTypeProtocol, message)
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// GetType returns err's ErrorType, or ErrorTypeInternal if err is not an
// *AppError.
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status code associated with err.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages holds the externally-safe messages for error kinds whose
// Message field may contain internal detail unsuitable for clients.
var ErrorMessages = struct {
	ResourceNotFound       string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
	InternalError          string
}{
	ResourceNotFound:       "The requested resource was not found",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Too many requests, please retry later",
	ConcurrentModification: "The resource was modified concurrently",
	InternalError:          "An internal error occurred",
}

// SafeErrorMessage returns a message safe to return to an external client:
// validation/protocol/duplicate/cycle messages pass through verbatim since
// they describe the caller's own input; not-found and capacity errors get a
// fixed generic message, and any other failure detail is redacted.
func SafeErrorMessage(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation, ErrorTypeProtocol, ErrorTypeDuplicate, ErrorTypeCycle:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeCapacity:
		return ErrorMessages.RateLimitExceeded
	default:
		return ErrorMessages.InternalError
	}
}

// LogFields returns a structured field map suitable for logrus/zap
// WithFields-style logging.
func LogFields(err error) map[string]any {
	fields := map[string]any{"error": err.Error()}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	if len(appErr.CyclePath) > 0 {
		fields["cycle_path"] = appErr.CyclePath
	}
	return fields
}

// Chain joins a set of non-nil errors into one, filtering nils. It returns
// nil if every argument is nil, the single error itself (unchanged) if
// exactly one is non-nil, and a combined error joined with " -> " otherwise.
func Chain(errs ...error) error {
	var msgs []string
	var nonNil []error
	for _, e := range errs {
		if e == nil {
			continue
		}
		nonNil = append(nonNil, e)
		msgs = append(msgs, e.Error())
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return errors.New(strings.Join(msgs, " -> "))
	}
}
