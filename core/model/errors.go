package model

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCurve is wrapped by validation errors on empty input curves.
	ErrEmptyCurve = errors.New("empty curve")
	// ErrNonMonotonic is wrapped by validation errors on unsorted curves.
	ErrNonMonotonic = errors.New("curve is not monotonic")
)

// ValidationError reports malformed input detected during setup, before
// any solve is attempted.
type ValidationError struct {
	Component string
	Entity    string
	Reason    string
	Err       error
}

func (e *ValidationError) Error() string {
	msg := e.Component
	if e.Entity != "" {
		msg += " " + e.Entity
	}
	return fmt.Sprintf("validation: %s: %s", msg, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InfeasibleHorizonError is returned when a sub-horizon stays infeasible
// after every recovery attempt. The run cannot continue past SimIdx.
type InfeasibleHorizonError struct {
	SimIdx   int
	Attempts int
	Status   SolveStatus
}

func (e *InfeasibleHorizonError) Error() string {
	return fmt.Sprintf("sub-horizon %d still %s after %d attempts", e.SimIdx, e.Status, e.Attempts)
}

// SolverError wraps a hard solver failure that is not a status.
type SolverError struct {
	SimIdx int
	Err    error
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("solver failed on sub-horizon %d: %v", e.SimIdx, e.Err)
}

func (e *SolverError) Unwrap() error { return e.Err }
