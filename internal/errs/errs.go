// Package errs defines the closed set of error kinds surfaced across the
// coordination kernel's public operations and its plugin-boundary envelope.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error categories a caller can branch on.
type Kind string

const (
	NotFound    Kind = "NotFound"
	Conflict    Kind = "Conflict"
	Invalid     Kind = "Invalid"
	Unavailable Kind = "Unavailable"
	Transient   Kind = "Transient"
	Corruption  Kind = "Corruption"
	Fatal       Kind = "Fatal"
)

// Error wraps an underlying cause with a Kind and optional structured details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetails returns a copy of e carrying the given details map.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// KindOf extracts the Kind of err, defaulting to Fatal when err does not
// wrap an *Error (an unclassified error is treated as unrecoverable).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// Envelope is the JSON shape returned across the plugin/tool boundary,
// per spec: {"error": {"kind": ..., "message": ..., "details": ...}}.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToEnvelope converts any error into the boundary-safe JSON envelope,
// never leaking a language-specific error type across it.
func ToEnvelope(err error) Envelope {
	var e *Error
	if errors.As(err, &e) {
		return Envelope{Error: EnvelopeBody{Kind: e.Kind, Message: e.Message, Details: e.Details}}
	}
	return Envelope{Error: EnvelopeBody{Kind: Fatal, Message: err.Error()}}
}
