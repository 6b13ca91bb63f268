package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNoConnection is returned when a model has neither its own connection
	// nor a process default.
	ErrNoConnection = errors.New("mongorito: no connection")
	// ErrUnknownScheme is returned by Connect for a URL no driver registered.
	ErrUnknownScheme = errors.New("mongorito: unknown url scheme")
	// ErrHookMissing is returned when a registered hook is nil at execution.
	ErrHookMissing = errors.New("mongorito: hook is not callable")
	// ErrReferenceFlatten is the sentinel wrapped by every ReferenceError.
	ErrReferenceFlatten = errors.New("mongorito: reference has no _id")
	// ErrQueryExecuted is returned by a terminal call on a spent Query.
	ErrQueryExecuted = errors.New("mongorito: query already executed")
	// ErrInvalidArgument is returned for malformed chain calls.
	ErrInvalidArgument = errors.New("mongorito: invalid argument")
	// ErrDuplicateKey is returned by drivers when a unique index is violated.
	ErrDuplicateKey = errors.New("mongorito: duplicate key")
	// ErrUnsupportedOperator is returned by drivers for criteria they cannot
	// translate.
	ErrUnsupportedOperator = errors.New("mongorito: unsupported operator")
)

// HookError reports a failing hook together with the chain position it
// aborted.
type HookError struct {
	Phase  Phase
	Action Action
	Index  int
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("mongorito: %s:%s hook #%d: %v", e.Phase, e.Action, e.Index, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// ReferenceError reports a populate field that could not be flattened to an
// identifier. Index is -1 unless the field holds a sequence.
type ReferenceError struct {
	Field string
	Index int
}

func (e *ReferenceError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("mongorito: reference %s[%d] has no _id", e.Field, e.Index)
	}
	return fmt.Sprintf("mongorito: reference %s has no _id", e.Field)
}

func (e *ReferenceError) Unwrap() error { return ErrReferenceFlatten }
