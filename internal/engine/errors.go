package engine

import (
	"errors"
	"fmt"

	"prodline/internal/repo"
)

// Error kinds. Every error returned by the engine for a rejected operation matches one of
// these with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidOrderState = errors.New("invalid order state")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyCompleted  = errors.New("already completed")
	ErrSealedRecord      = errors.New("sealed record")
	ErrConflict          = errors.New("conflict")
	ErrProtected         = errors.New("protected")
	ErrInvalidInput      = errors.New("invalid input")
)

// Error is a caller-visible rejection. It unwraps to its Kind and to any further kinds
// the same condition satisfies.
type Error struct {
	Kind    error
	Message string
	Details map[string]any
	also    []error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() []error {
	return append([]error{e.Kind}, e.also...)
}

func newError(kind error, details map[string]any, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Details: details}
}

func notFound(kind, id string) *Error {
	return newError(ErrNotFound, map[string]any{"kind": kind, "id": id}, "%s %s not found", kind, id)
}

// lookup turns repo.ErrNotFound into a NotFound error for the named entity.
func lookup(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return notFound(kind, id)
	}
	return err
}

func invalidInput(format string, args ...any) *Error {
	return newError(ErrInvalidInput, nil, format, args...)
}

func sealed(reportID string, also ...error) *Error {
	e := newError(ErrSealedRecord, map[string]any{"report_id": reportID}, "report %s is completed and can no longer be changed", reportID)
	e.also = also
	return e
}

// Code returns the stable machine code of an engine error kind, "internal" for anything else.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, ErrSealedRecord):
		return "sealed_record"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidOrderState):
		return "invalid_order_state"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrProtected):
		return "protected"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	}
	return "internal"
}
