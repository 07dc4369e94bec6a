package session

import (
	"errors"
	"fmt"
)

// ErrRegistryClosed is returned once the registry has been drained.
var ErrRegistryClosed = errors.New("session registry is closed")

// ErrNotFound is returned when no live session matches a key or id
type ErrNotFound struct {
	Key string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("session not found: %s", e.Key)
}

// ErrSessionBusy is returned by non-blocking operations when the session's
// lifecycle or execution lock is held
type ErrSessionBusy struct {
	Key string
}

func (e ErrSessionBusy) Error() string {
	return fmt.Sprintf("session busy: %s", e.Key)
}

// ErrInvalidOwner is returned for an empty owner key
type ErrInvalidOwner struct{}

func (e ErrInvalidOwner) Error() string {
	return "owner key must not be empty"
}
