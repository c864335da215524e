package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence wraps any store failure during a run.
	ErrPersistence = errors.New("persistence failure")
	// ErrStaleDay is returned when a sleep cycle targets a day older than the
	// entity's last processed day.
	ErrStaleDay = errors.New("day precedes last processed day")
	// ErrGeneration aborts a run when the policy is PolicyFail.
	ErrGeneration = errors.New("generation failed")
	ErrInvalidDay = errors.New("day must not be negative")
)

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
