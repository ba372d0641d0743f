package model

import (
	"errors"
	"fmt"
)

// Error kinds. Typed errors below report their kind through errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrCertificate         = errors.New("certificate error")
	ErrTransport           = errors.New("transport error")
	ErrEnvironmentMismatch = errors.New("environment mismatch")
	ErrParse               = errors.New("parse error")
	ErrStateViolation      = errors.New("state violation")
)

// ValidationError represents missing or malformed caller input
type ValidationError struct {
	Field   string
	Value   interface{}
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed on %s: %s (value=%v, rule=%s)", e.Field, e.Message, e.Value, e.Rule)
	}
	return fmt.Sprintf("validation failed on %s: %s (rule=%s)", e.Field, e.Message, e.Rule)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, rule, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Rule:    rule,
		Message: message,
	}
}

// ParseError represents an unparsable authority response. Raw keeps the payload for diagnostics.
type ParseError struct {
	Source  string
	Message string
	Raw     []byte
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (%v)", e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Source, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// NewParseError creates a new parse error
func NewParseError(source, message string, raw []byte, cause error) *ParseError {
	return &ParseError{
		Source:  source,
		Message: message,
		Raw:     raw,
		Cause:   cause,
	}
}

// TransportError is a network, timeout or non-2xx failure after retries ran out
type TransportError struct {
	Endpoint   string
	StatusCode int
	Attempts   int
	Message    string
	Cause      error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("transport to %s failed after %d attempt(s): %s", e.Endpoint, e.Attempts, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status=%d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// NewTransportError creates a new transport error
func NewTransportError(endpoint string, statusCode, attempts int, message string, cause error) *TransportError {
	return &TransportError{
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Attempts:   attempts,
		Message:    message,
		Cause:      cause,
	}
}

// EnvironmentMismatchError is fatal and never retried
type EnvironmentMismatchError struct {
	Declared   Environment
	Configured Environment
	Endpoint   string
}

func (e *EnvironmentMismatchError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("environment mismatch: declared %s, configured %s, endpoint %s", e.Declared, e.Configured, e.Endpoint)
	}
	return fmt.Sprintf("environment mismatch: declared %s, configured %s", e.Declared, e.Configured)
}

func (e *EnvironmentMismatchError) Is(target error) bool {
	return target == ErrEnvironmentMismatch
}

// StateError reports an operation attempted from a status that does not allow it
type StateError struct {
	Operation string
	From      Status
	To        Status
}

func (e *StateError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("%s: transition %s -> %s not allowed", e.Operation, e.From, e.To)
	}
	return fmt.Sprintf("%s: not allowed from status %s", e.Operation, e.From)
}

func (e *StateError) Is(target error) bool {
	return target == ErrStateViolation
}

// NewStateError creates a new state error
func NewStateError(operation string, from, to Status) *StateError {
	return &StateError{
		Operation: operation,
		From:      from,
		To:        to,
	}
}
