package storage

import (
	"context"
	"sync"

	"todo-api/domain"
)

// MemoryStore keeps tasks in process memory. It follows the same contract
// as FileStore and is used in tests and for throwaway servers.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks []domain.Task
}

func NewMemoryStore(seed ...domain.Task) *MemoryStore {
	return &MemoryStore{tasks: append([]domain.Task(nil), seed...)}
}

func (m *MemoryStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Task, len(m.tasks))
	copy(out, m.tasks)
	return out, nil
}

func (m *MemoryStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := indexOf(m.tasks, id); i >= 0 {
		return m.tasks[i], nil
	}
	return domain.Task{}, domain.ErrTaskNotFound
}

func (m *MemoryStore) CreateTask(ctx context.Context, in domain.TaskCreate) (domain.Task, error) {
	task, err := domain.PrepareTask(domain.NewTaskID(), in)
	if err != nil {
		return domain.Task{}, err
	}
	m.mu.Lock()
	m.tasks = append(m.tasks, task)
	m.mu.Unlock()
	return task, nil
}

func (m *MemoryStore) UpdateTask(ctx context.Context, id string, in domain.TaskCreate) (domain.Task, error) {
	task, err := domain.PrepareTask(id, in)
	if err != nil {
		return domain.Task{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := indexOf(m.tasks, id)
	if i < 0 {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	m.tasks[i] = task
	return task, nil
}

func (m *MemoryStore) DeleteTask(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := without(m.tasks, id)
	if len(kept) == len(m.tasks) {
		return false, nil
	}
	m.tasks = kept
	return true, nil
}
