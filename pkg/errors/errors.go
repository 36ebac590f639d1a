// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Mentat.
// Errors carry a code so callers can decide between local recovery (the
// failure becomes transcript text the model can react to) and aborting the
// request.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Mentat errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeParseError indicates a malformed skill call body.
	CodeParseError ErrorCode = "PARSE_ERROR"

	// CodeSkillNotFound indicates the model asked for an unregistered skill.
	CodeSkillNotFound ErrorCode = "SKILL_NOT_FOUND"

	// CodePermissionDenied indicates the request lacks the skill's capability.
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// CodeSkillFailure indicates a skill handler returned an error.
	CodeSkillFailure ErrorCode = "SKILL_FAILURE"

	// CodeUpstream indicates the model gateway failed (transport, timeout, API).
	CodeUpstream ErrorCode = "UPSTREAM_ERROR"

	// CodeMaxTurns indicates the turn bound was reached.
	CodeMaxTurns ErrorCode = "MAX_TURNS_EXCEEDED"

	// CodeContextLost indicates the caller's context was canceled.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeMemoryError indicates a persistence failure.
	CodeMemoryError ErrorCode = "MEMORY_ERROR"

	// CodeRetrievalError indicates a vector store or embedding failure.
	CodeRetrievalError ErrorCode = "RETRIEVAL_ERROR"
)

// MentatError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type MentatError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *MentatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *MentatError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *MentatError) MarshalJSON() ([]byte, error) {
	type Alias MentatError
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         cause,
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new MentatError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *MentatError {
	return &MentatError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *MentatError) WithContext(key string, value interface{}) *MentatError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *MentatError) WithAttribute(key, value string) *MentatError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *MentatError) WithRecoverable(recoverable bool) *MentatError {
	e.Recoverable = recoverable
	return e
}

// AsMentatError attempts to convert an error to a MentatError.
// Returns the error as MentatError if it is one, or wraps it otherwise.
func AsMentatError(err error) *MentatError {
	if err == nil {
		return nil
	}
	if me, ok := err.(*MentatError); ok {
		return me
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether err is a MentatError carrying code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if me, ok := err.(*MentatError); ok && me.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *MentatError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound, CodeSkillNotFound:
		return 404
	case CodePermissionDenied:
		return 403
	case CodeInvalidInput, CodeParseError:
		return 400
	case CodeTimeout:
		return 408
	case CodeUpstream:
		return 502
	default:
		return 500
	}
}
