package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	_ "modernc.org/sqlite"

	"todo-api/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL,
	description TEXT,
	priority    TEXT NOT NULL,
	category    TEXT,
	due_date    TEXT,
	completed   INTEGER NOT NULL DEFAULT 0
);
`

const sqliteColumns = `id, title, description, priority, category, due_date, completed`

// SQLiteStore keeps tasks in an embedded SQLite database with indexed
// lookups by id. Listing preserves insertion order.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tasks table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM tasks ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return t, err
}

func (s *SQLiteStore) CreateTask(ctx context.Context, in domain.TaskCreate) (domain.Task, error) {
	task, err := domain.PrepareTask(domain.NewTaskID(), in)
	if err != nil {
		return domain.Task{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, nullString(task.Description), string(task.Priority),
		nullCategory(task.Category), nullDate(task.DueDate), task.Completed,
	)
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, id string, in domain.TaskCreate) (domain.Task, error) {
	task, err := domain.PrepareTask(id, in)
	if err != nil {
		return domain.Task{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, priority = ?, category = ?, due_date = ?, completed = ? WHERE id = ?`,
		task.Title, nullString(task.Description), string(task.Priority),
		nullCategory(task.Category), nullDate(task.DueDate), task.Completed, id,
	)
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return task, nil
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (domain.Task, error) {
	var (
		t                       domain.Task
		priority                string
		desc, category, dueDate sql.NullString
	)
	if err := r.Scan(&t.ID, &t.Title, &desc, &priority, &category, &dueDate, &t.Completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, err
		}
		return domain.Task{}, fmt.Errorf("scan task: %w", err)
	}

	p, err := domain.ParsePriority(priority)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", t.ID, err)
	}
	t.Priority = p
	if desc.Valid {
		t.Description = &desc.String
	}
	if category.Valid {
		c, err := domain.ParseCategory(category.String)
		if err != nil {
			return domain.Task{}, fmt.Errorf("task %s: %w", t.ID, err)
		}
		t.Category = &c
	}
	if dueDate.Valid {
		d, err := civil.ParseDate(dueDate.String)
		if err != nil {
			return domain.Task{}, fmt.Errorf("task %s: %w: %v", t.ID, domain.ErrInvalidDate, err)
		}
		t.DueDate = &d
	}
	return t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullCategory(c *domain.Category) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*c), Valid: true}
}

func nullDate(d *civil.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}
