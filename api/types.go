package api

import (
	"context"

	"todo-api/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	CreateTask(ctx context.Context, in domain.TaskCreate) (domain.Task, error)
	// UpdateTask replaces every field of the task with id. It returns
	// domain.ErrTaskNotFound when no such task exists.
	UpdateTask(ctx context.Context, id string, in domain.TaskCreate) (domain.Task, error)
	// DeleteTask reports whether a task was removed.
	DeleteTask(ctx context.Context, id string) (bool, error)
}
