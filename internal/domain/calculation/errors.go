package calculation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRunNotFound       = errors.New("calculation run not found")
	ErrInvalidTransition = errors.New("invalid calculation state transition")
)

// RunError marks the unit of work a failed run was processing.
type RunError struct {
	Phase        Phase
	EntryID      string
	EmployeeID   string
	DepartmentID string
	Cause        error
}

func (e *RunError) Error() string {
	parts := []string{"calculation failed in " + string(e.Phase)}
	if e.EntryID != "" {
		parts = append(parts, "entry "+e.EntryID)
	}
	if e.EmployeeID != "" {
		parts = append(parts, "employee "+e.EmployeeID)
	}
	if e.DepartmentID != "" {
		parts = append(parts, "department "+e.DepartmentID)
	}
	return fmt.Sprintf("%s: %v", strings.Join(parts, ", "), e.Cause)
}

func (e *RunError) Unwrap() error {
	return e.Cause
}
