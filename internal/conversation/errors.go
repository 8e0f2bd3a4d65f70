package conversation

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway failure.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindCollaborator Kind = "collaborator"
)

// Sentinels for errors.Is matching against a *Error of the same kind.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrCollaborator = errors.New("collaborator failure")
)

// Error is returned by the Gateway.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return e.Kind == KindInvalidInput
	case ErrCollaborator:
		return e.Kind == KindCollaborator
	}
	return false
}

func invalidInput(msg string) error {
	return &Error{Kind: KindInvalidInput, Message: msg}
}

func collaboratorError(msg string, err error) error {
	return &Error{Kind: KindCollaborator, Message: msg, Err: err}
}
