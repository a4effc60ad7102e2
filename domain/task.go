package domain

import (
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// Priority is the closed set of task priorities.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// Priorities lists every accepted priority in display order.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ParsePriority converts s into a Priority, rejecting unknown values.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
	return p, nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Category is the closed set of task categories.
type Category string

const (
	CategoryWork     Category = "Work"
	CategoryPersonal Category = "Personal"
	CategoryStudy    Category = "Study"
)

// Categories lists every accepted category in display order.
var Categories = []Category{CategoryWork, CategoryPersonal, CategoryStudy}

func (c Category) Valid() bool {
	switch c {
	case CategoryWork, CategoryPersonal, CategoryStudy:
		return true
	}
	return false
}

// ParseCategory converts s into a Category, rejecting unknown values.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
	return c, nil
}

func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// TaskCreate is the client supplied part of a task. It is used both to
// create a task and to replace one wholesale.
type TaskCreate struct {
	Title       string      `json:"title"`
	Description *string     `json:"description"`
	Priority    Priority    `json:"priority"`
	Category    *Category   `json:"category"`
	DueDate     *civil.Date `json:"due_date"`
	Completed   bool        `json:"completed"`
}

// Task is a single to-do record.
type Task struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description *string     `json:"description"`
	Priority    Priority    `json:"priority"`
	Category    *Category   `json:"category"`
	DueDate     *civil.Date `json:"due_date"`
	Completed   bool        `json:"completed"`
}

// WithDefaults fills the fields a client may omit.
func (in TaskCreate) WithDefaults() TaskCreate {
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	return in
}

// Validate checks in against the task invariants. All violations are
// reported, joined into a single error.
func (in TaskCreate) Validate() error {
	var errs []error
	if strings.TrimSpace(in.Title) == "" {
		errs = append(errs, ErrEmptyTitle)
	}
	if !in.Priority.Valid() {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidPriority, in.Priority))
	}
	if in.Category != nil && !in.Category.Valid() {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidCategory, *in.Category))
	}
	if in.DueDate != nil && !in.DueDate.IsValid() {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidDate, in.DueDate))
	}
	return errors.Join(errs...)
}

// NewTask builds the stored form of in under the given id. Only the id
// survives from any previous version of the task.
func NewTask(id string, in TaskCreate) Task {
	in = in.WithDefaults()
	return Task{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Category:    in.Category,
		DueDate:     in.DueDate,
		Completed:   in.Completed,
	}
}

// Input returns the client supplied part of t.
func (t Task) Input() TaskCreate {
	return TaskCreate{
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		Category:    t.Category,
		DueDate:     t.DueDate,
		Completed:   t.Completed,
	}
}

// NewTaskID returns a fresh opaque task identifier.
func NewTaskID() string {
	return uuid.NewString()
}

// PrepareTask normalizes and validates in, then builds a task with id.
func PrepareTask(id string, in TaskCreate) (Task, error) {
	in = in.WithDefaults()
	if err := in.Validate(); err != nil {
		return Task{}, err
	}
	return NewTask(id, in), nil
}
