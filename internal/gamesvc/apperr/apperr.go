// Package apperr carries the failure kinds returned by the game services.
// Every error that crosses the service boundary is either an *Error or is
// reported as Unknown.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	Unauthenticated
	InvalidSession
	Forbidden
	NotFound
	Duplicate
	InvalidState
	Validation
	Runtime
	AllocationExhausted
)

var kindNames = map[Kind]string{
	Unknown:             "UnknownError",
	Unauthenticated:     "Unauthenticated",
	InvalidSession:      "InvalidSession",
	Forbidden:           "Forbidden",
	NotFound:            "NotFound",
	Duplicate:           "Duplicate",
	InvalidState:        "InvalidState",
	Validation:          "ValidationError",
	Runtime:             "RuntimeError",
	AllocationExhausted: "AllocationExhausted",
}

// default caller facing messages
var kindMessages = map[Kind]string{
	Unknown:             "An unknown error has occurred",
	Unauthenticated:     "You must be logged in to view this resource",
	InvalidSession:      "Session is invalid or has expired",
	Forbidden:           "You do not have permissions to view this resource",
	NotFound:            "Resource could not be found",
	Duplicate:           "Duplicate record found",
	InvalidState:        "Game is not in the required state",
	Validation:          "Invalid input",
	Runtime:             "Container runtime failure",
	AllocationExhausted: "No free port is available",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Message returns the default caller facing message for the kind.
func (k Kind) Message() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return kindMessages[Unknown]
}

type Error struct {
	Kind    Kind
	Message string // safe to show to the caller
	Err     error  // underlying cause, logged but not shown outside debug mode
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind. An empty message selects the
// kind's default message.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = kind.Message()
	}
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a kind and a caller facing message to err.
func Wrap(kind Kind, message string, err error) *Error {
	e := New(kind, message)
	e.Err = err
	return e
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
