package assignment

import (
	"errors"
	"fmt"
)

var ErrAssignmentNotFound = errors.New("assignment not found")

// WeightExceededError is returned when a write would push a scope past 100%.
// The caller recovers by choosing a smaller weight; it is never retried.
type WeightExceededError struct {
	Scope     ScopeKey
	Attempted float64
	Current   float64
}

func (e *WeightExceededError) Error() string {
	return fmt.Sprintf("weight budget exceeded for %s: attempted total %.2f, current %.2f", e.Scope, e.Attempted, e.Current)
}
