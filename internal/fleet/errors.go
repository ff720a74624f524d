package fleet

import (
	"errors"
	"fmt"
)

// Fleet errors that can be checked with errors.Is()
var (
	// ErrOverAllocated is returned when a declared capacity is smaller than
	// the number of services already occupying that profile
	ErrOverAllocated = errors.New("profile over-allocated")

	// ErrCapacityExhausted is returned when a slot is requested from a
	// profile with no remaining capacity
	ErrCapacityExhausted = errors.New("profile capacity exhausted")
)

// RuntimeError wraps a container runtime failure and always names the
// service it concerns.
type RuntimeError struct {
	Service string
	Op      string
	Err     error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Service, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }
