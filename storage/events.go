package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

// Task change event types.
const (
	EventTaskCreated = "task-created"
	EventTaskUpdated = "task-updated"
	EventTaskDeleted = "task-deleted"
)

// TaskEvent describes a committed change to a task.
type TaskEvent struct {
	ID         string       `json:"id"`
	EntityID   string       `json:"entityId"`
	EntityType string       `json:"entityType"`
	Type       string       `json:"type"`
	Data       *domain.Task `json:"data,omitempty"`
	Time       int64        `json:"time"`
}

func newTaskEvent(typ, taskID string, data *domain.Task) TaskEvent {
	return TaskEvent{
		ID:         domain.NewTaskID(),
		EntityID:   taskID,
		EntityType: "task",
		Type:       typ,
		Data:       data,
		Time:       nextSeq(),
	}
}

// Publisher delivers task events to interested parties.
type Publisher interface {
	Publish(ctx context.Context, ev TaskEvent) error
}

// QueuePublisher sends task events to an Azure Storage queue.
type QueuePublisher struct {
	queue *azqueue.QueueClient
}

// NewQueuePublisher connects to the named queue using connStr.
func NewQueuePublisher(connStr, queue string) (*QueuePublisher, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 30 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queue, &opts)
	if err != nil {
		return nil, fmt.Errorf("queue client: %w", err)
	}
	return &QueuePublisher{queue: q}, nil
}

// EnsureQueue creates the queue when it does not exist yet.
func (p *QueuePublisher) EnsureQueue(ctx context.Context) error {
	if _, err := p.queue.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists" {
			return nil
		}
		return fmt.Errorf("create queue: %w", err)
	}
	return nil
}

func (p *QueuePublisher) Publish(ctx context.Context, ev TaskEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := p.queue.EnqueueMessage(ctx, string(data), nil); err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// Notifier wraps a Backend and publishes an event after every successful
// mutation. Publishing failures are logged and never fail the mutation.
type Notifier struct {
	base Backend
	pub  Publisher
	log  *log.Logger
}

func NewNotifier(base Backend, pub Publisher, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Notifier{base: base, pub: pub, log: logger}
}

func (n *Notifier) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return n.base.ListTasks(ctx)
}

func (n *Notifier) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return n.base.GetTask(ctx, id)
}

func (n *Notifier) CreateTask(ctx context.Context, in domain.TaskCreate) (domain.Task, error) {
	t, err := n.base.CreateTask(ctx, in)
	if err != nil {
		return domain.Task{}, err
	}
	n.publish(ctx, newTaskEvent(EventTaskCreated, t.ID, &t))
	return t, nil
}

func (n *Notifier) UpdateTask(ctx context.Context, id string, in domain.TaskCreate) (domain.Task, error) {
	t, err := n.base.UpdateTask(ctx, id, in)
	if err != nil {
		return domain.Task{}, err
	}
	n.publish(ctx, newTaskEvent(EventTaskUpdated, t.ID, &t))
	return t, nil
}

func (n *Notifier) DeleteTask(ctx context.Context, id string) (bool, error) {
	removed, err := n.base.DeleteTask(ctx, id)
	if err != nil || !removed {
		return removed, err
	}
	n.publish(ctx, newTaskEvent(EventTaskDeleted, id, nil))
	return true, nil
}

func (n *Notifier) publish(ctx context.Context, ev TaskEvent) {
	if n.pub == nil {
		return
	}
	if err := n.pub.Publish(ctx, ev); err != nil {
		n.log.WithFields(log.Fields{
			"event":   ev.Type,
			"task_id": ev.EntityID,
			"error":   err.Error(),
		}).Warn("task event not published")
	}
}
