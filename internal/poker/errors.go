/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package poker

import (
	"errors"
	"fmt"

	"github.com/Seednode/estimate/internal/store"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindInvalidState
	KindValidation
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidState:
		return "invalid-state"
	case KindValidation:
		return "validation"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// Error is returned by every room operation. Message is safe to show to
// the originating connection; Err carries the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
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

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

var (
	ErrRoomNotFound        = newError(KindNotFound, "room not found")
	ErrParticipantNotFound = newError(KindNotFound, "participant not found")
	ErrTaskNotFound        = newError(KindNotFound, "task not found")

	ErrForbidden         = newError(KindForbidden, "forbidden")
	ErrNotMember         = newError(KindForbidden, "you are not a member of this room")
	ErrCannotVote        = newError(KindForbidden, "only participants can vote")
	ErrManagerProtected  = newError(KindForbidden, "the manager cannot be removed")
	ErrManagerRoleLocked = newError(KindForbidden, "the manager's role cannot be changed")

	ErrNotCurrentTask = newError(KindInvalidState, "this task is not the current task")
	ErrNoCurrentTask  = newError(KindInvalidState, "no task is selected")
	ErrNotRevealed    = newError(KindInvalidState, "estimates are not revealed")
	ErrSelfTransfer   = newError(KindInvalidState, "you are already the manager")
	ErrAlreadyManager = newError(KindInvalidState, "this participant is already the manager")
	ErrAlreadyInRoom  = newError(KindInvalidState, "this connection is already in a room")

	ErrEmptyName       = newError(KindValidation, "name cannot be empty")
	ErrEmptyCardSet    = newError(KindValidation, "card set must contain at least one card")
	ErrInvalidRole     = newError(KindValidation, "invalid role")
	ErrEmptyTitle      = newError(KindValidation, "task title cannot be empty")
	ErrInvalidEstimate = newError(KindValidation, "estimate is not a valid card")
	ErrInvalidPayload  = newError(KindValidation, "malformed payload")
	ErrUnknownAction   = newError(KindValidation, "unknown action")

	ErrInvalidFinalEstimate = newError(KindValidation, `final estimate must be a number or "?"`)
)

// forbidden builds the error returned when a non-manager attempts a
// manager action.
func forbidden(action string) *Error {
	return &Error{
		Kind:    KindForbidden,
		Message: "only the manager can " + action,
		Err:     ErrForbidden,
	}
}

func invalidPayload(err error) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: ErrInvalidPayload.Message,
		Err:     err,
	}
}

func storageError(op string, err error) *Error {
	return &Error{
		Kind:    KindStorage,
		Message: "storage failure",
		Err:     fmt.Errorf("%s: %w", op, err),
	}
}

// notFound translates store.ErrNotFound into the given sentinel and any
// other store failure into a storage error.
func notFound(op string, err error, sentinel *Error) error {
	if errors.Is(err, store.ErrNotFound) {
		return sentinel
	}

	return storageError(op, err)
}

// KindOf classifies err. Errors that did not originate in this package
// are storage failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindStorage
}

// Message returns the text to show the originating connection.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}

	return "storage failure"
}
