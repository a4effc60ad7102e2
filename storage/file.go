package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

const fileIndent = "    "

// FileStore keeps every task in a single JSON array on disk. Each mutation
// loads the whole collection, changes it in memory and rewrites the file.
type FileStore struct {
	mu   sync.Mutex
	path string
	log  *log.Logger
}

// NewFileStore returns a store backed by the file at path. The file does
// not need to exist yet.
func NewFileStore(path string, logger *log.Logger) *FileStore {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &FileStore{path: path, log: logger}
}

// Path returns the backing file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return domain.Task{}, err
	}
	if i := indexOf(tasks, id); i >= 0 {
		return tasks[i], nil
	}
	return domain.Task{}, domain.ErrTaskNotFound
}

func (s *FileStore) CreateTask(ctx context.Context, in domain.TaskCreate) (domain.Task, error) {
	task, err := domain.PrepareTask(domain.NewTaskID(), in)
	if err != nil {
		return domain.Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.save(append(tasks, task)); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (s *FileStore) UpdateTask(ctx context.Context, id string, in domain.TaskCreate) (domain.Task, error) {
	task, err := domain.PrepareTask(id, in)
	if err != nil {
		return domain.Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return domain.Task{}, err
	}
	i := indexOf(tasks, id)
	if i < 0 {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	tasks[i] = task
	if err := s.save(tasks); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (s *FileStore) DeleteTask(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return false, err
	}
	kept := without(tasks, id)
	if len(kept) == len(tasks) {
		return false, nil
	}
	if err := s.save(kept); err != nil {
		return false, err
	}
	return true, nil
}

// load reads the whole collection. A missing, empty or unparseable file
// yields an empty collection.
func (s *FileStore) load() ([]domain.Task, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.Task{}, nil
		}
		return nil, fmt.Errorf("read tasks file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []domain.Task{}, nil
	}

	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		s.log.WithFields(log.Fields{
			"path":  s.path,
			"error": err.Error(),
		}).Warn("tasks file unreadable; treating as empty")
		return []domain.Task{}, nil
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

// save rewrites the whole collection through a temporary file in the same
// directory, renamed over the target once fully written.
func (s *FileStore) save(tasks []domain.Task) error {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	data, err := sonic.ConfigStd.MarshalIndent(tasks, "", fileIndent)
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tasks dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp tasks file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write tasks file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close tasks file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename tasks file: %w", err)
	}
	s.log.WithFields(log.Fields{"path": s.path, "tasks": len(tasks)}).Debug("tasks file rewritten")
	return nil
}
