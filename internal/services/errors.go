package services

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalid                ErrorCode = "invalid"
	ErrorForbidden              ErrorCode = "forbidden"
	ErrorUnauthorized           ErrorCode = "unauthorized"
	ErrorNotFound               ErrorCode = "not_found"
	ErrorIllegalTransition      ErrorCode = "illegal_transition"
	ErrorPreconditionFailed     ErrorCode = "precondition_failed"
	ErrorConcurrentModification ErrorCode = "concurrent_modification"
	ErrorStoreUnavailable       ErrorCode = "store_unavailable"
	ErrorAlreadyExists          ErrorCode = "already_exists"
)

// ServiceError is the typed result every service operation returns on failure.
// Key names an i18n message (see utils.T) and Args fill its placeholders; Message
// is the English rendering.
type ServiceError struct {
	Code    ErrorCode
	Message string
	Key     string
	Args    []any
	Err     error
}

func (e *ServiceError) Error() string { return e.Message }

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches on Code so callers can compare against the sentinel values below.
func (e *ServiceError) Is(target error) bool {
	var se *ServiceError
	if !errors.As(target, &se) {
		return false
	}
	return se.Message == "" && se.Code == e.Code
}

var (
	ErrInvalid                = &ServiceError{Code: ErrorInvalid}
	ErrForbidden              = &ServiceError{Code: ErrorForbidden}
	ErrNotFound               = &ServiceError{Code: ErrorNotFound}
	ErrIllegalTransition      = &ServiceError{Code: ErrorIllegalTransition}
	ErrPreconditionFailed     = &ServiceError{Code: ErrorPreconditionFailed}
	ErrConcurrentModification = &ServiceError{Code: ErrorConcurrentModification}
	ErrStoreUnavailable       = &ServiceError{Code: ErrorStoreUnavailable}
	ErrAlreadyExists          = &ServiceError{Code: ErrorAlreadyExists}
)

func NewInvalidError(msg string) error   { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewForbiddenError(msg string) error { return &ServiceError{Code: ErrorForbidden, Message: msg} }
func NewNotFoundError(msg string) error  { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func NewIllegalTransitionError(from, to Status) error {
	return &ServiceError{
		Code:    ErrorIllegalTransition,
		Message: fmt.Sprintf("cannot move response from %s to %s", from, to),
		Key:     "response.illegal_transition",
		Args:    []any{from.String(), to.String()},
	}
}

// NewPreconditionError builds a user-visible business rejection. msg must already
// be the rendered English text for key.
func NewPreconditionError(key, msg string, args ...any) error {
	return &ServiceError{Code: ErrorPreconditionFailed, Message: msg, Key: key, Args: args}
}

func NewConcurrentModificationError(target string, err error) error {
	return &ServiceError{
		Code:    ErrorConcurrentModification,
		Message: fmt.Sprintf("%s was modified concurrently", target),
		Err:     err,
	}
}

// NewAlreadyExistsError reports an insert whose key is taken. Unlike
// store_unavailable it is not worth retrying.
func NewAlreadyExistsError(msg string, err error) error {
	return &ServiceError{Code: ErrorAlreadyExists, Message: msg, Err: err}
}

func NewStoreUnavailableError(op string, err error) error {
	return &ServiceError{
		Code:    ErrorStoreUnavailable,
		Message: fmt.Sprintf("store unavailable: %s", op),
		Err:     err,
	}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CodeOf reports the ErrorCode carried by err, treating untyped errors as store failures.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if se, ok := AsServiceError(err); ok {
		return se.Code
	}
	return ErrorStoreUnavailable
}
