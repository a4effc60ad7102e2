package domain

import "errors"

// ErrTaskNotFound is returned when no task carries the requested id.
var ErrTaskNotFound = errors.New("task not found")

var (
	ErrEmptyTitle      = errors.New("title must not be empty")
	ErrInvalidPriority = errors.New("invalid priority")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidDate     = errors.New("invalid due date")
)
