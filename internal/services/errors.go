package services

import (
	"errors"
)

var (
	ErrSelfRelationship = errors.New("cannot create a relationship with yourself")
	ErrAlreadyExists    = errors.New("relationship already exists")
	ErrNotFound         = errors.New("relationship not found")
	ErrForbidden        = errors.New("access denied")
	ErrInvalidState     = errors.New("invalid relationship state")
)

// Reasons carried by AlreadyExistsError.
const (
	ReasonPending        = "pending"
	ReasonAlreadyFriends = "already friends"
	ReasonBlocked        = "blocked"
	ReasonExists         = "relationship already exists"
)

// Reasons carried by InvalidStateError.
const (
	ReasonAlreadyProcessed = "already processed"
	ReasonConcurrent       = "modified concurrently"
)

// AlreadyExistsError is returned when a conflicting record blocks a creation.
// errors.Is(err, ErrAlreadyExists) matches it.
type AlreadyExistsError struct {
	Reason string
}

func (e *AlreadyExistsError) Error() string {
	return "relationship already exists: " + e.Reason
}

func (e *AlreadyExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

func alreadyExists(reason string) error {
	return &AlreadyExistsError{Reason: reason}
}

// InvalidStateError carries the reason a transition was refused.
// errors.Is(err, ErrInvalidState) matches it.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	return "invalid relationship state: " + e.Reason
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

func invalidState(reason string) error {
	return &InvalidStateError{Reason: reason}
}
