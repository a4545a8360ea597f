package domain

import "errors"

// ErrNotFound indicates that no todo with the requested id exists. Delete
// also returns it when the todo exists but belongs to another user, so
// destructive calls do not reveal whether the id is taken.
var ErrNotFound = errors.New("todo not found")

// ErrNotOwner indicates the todo exists but the caller did not create it.
var ErrNotOwner = errors.New("user not authorized")

// ValidationError reports rejected input.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }
