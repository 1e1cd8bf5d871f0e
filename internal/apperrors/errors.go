// Package apperrors provides structured relay errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrTimeout           = errors.New("timed out")
	ErrMalformed         = errors.New("malformed payload")
	ErrInternal          = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel  error  // Wrapped sentinel for errors.Is() classification
	Message   string // Human-readable message
	Op        string // Operation that failed (e.g., "broker.push")
	RequestID string // Request the failure belongs to, if any
	Cause     error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so errors.Is matches either.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// BrokerUnavailable reports a failed broker command.
func BrokerUnavailable(op string, cause error) error {
	return &Error{
		Sentinel: ErrBrokerUnavailable,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Timeout reports that a bounded wait for a request expired.
func Timeout(op, requestID string) error {
	return &Error{
		Sentinel:  ErrTimeout,
		Message:   fmt.Sprintf("%s: request %s timed out", op, requestID),
		Op:        op,
		RequestID: requestID,
	}
}

// Malformed reports a payload that could not be decoded.
func Malformed(what string, cause error) error {
	msg := "malformed " + what
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &Error{
		Sentinel: ErrMalformed,
		Message:  msg,
		Cause:    cause,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
