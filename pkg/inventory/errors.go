package inventory

import (
	"fmt"
	"strings"
)

// UnknownGroupError is returned when a group name cannot be resolved.
type UnknownGroupError struct {
	// Group is the name that was not found.
	Group string
}

// Error implements the error interface.
func (e *UnknownGroupError) Error() string {
	return fmt.Sprintf("unknown group: %s", e.Group)
}

// CycleError is returned when child-group references form a cycle.
type CycleError struct {
	// Path is the chain of group names forming the cycle.
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic group definition: %s", strings.Join(e.Path, " -> "))
}

// ParseError is returned when the inventory file is malformed.
type ParseError struct {
	// File is the inventory file path.
	File string

	// Line is the 1-indexed line number.
	Line int

	// Message describes the problem.
	Message string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("inventory line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
}
