package storage

import (
	"context"

	"todo-api/domain"
)

// Backend is implemented by every task store. Update and Get return
// domain.ErrTaskNotFound for unknown ids; Delete reports removal with its
// boolean result instead.
type Backend interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	CreateTask(ctx context.Context, in domain.TaskCreate) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, in domain.TaskCreate) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) (bool, error)
}

func indexOf(tasks []domain.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func without(tasks []domain.Task, id string) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}
