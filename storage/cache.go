package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"todo-api/domain"
)

const tasksCacheKey = "tasks:all"

// Cache wraps a Backend with a Redis copy of the full task list. Reads are
// served from Redis when possible; every successful mutation evicts it.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper around base using the provided Redis
// client and TTL. A nil client or zero TTL disables caching.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context) ([]domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx); ok {
		return tasks, nil
	}

	tasks, err := c.base.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, tasks)
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, id string) (domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx); ok {
		if i := indexOf(tasks, id); i >= 0 {
			return tasks[i], nil
		}
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return c.base.GetTask(ctx, id)
}

func (c *Cache) CreateTask(ctx context.Context, in domain.TaskCreate) (domain.Task, error) {
	t, err := c.base.CreateTask(ctx, in)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx)
	return t, nil
}

func (c *Cache) UpdateTask(ctx context.Context, id string, in domain.TaskCreate) (domain.Task, error) {
	t, err := c.base.UpdateTask(ctx, id, in)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx)
	return t, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) (bool, error) {
	removed, err := c.base.DeleteTask(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		c.evict(ctx)
	}
	return removed, nil
}

func (c *Cache) loadTasks(ctx context.Context) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey).Err()
		return nil, false
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey).Result()
}
