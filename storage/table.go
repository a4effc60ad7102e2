package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"todo-api/domain"
)

// tasksPartition holds every task; the service is single user.
const tasksPartition = "tasks"

// TableStore keeps tasks as entities in an Azure Storage table, one row per
// task keyed by id.
type TableStore struct {
	table *aztables.Client
}

// NewTableStore connects to the named table using connStr.
func NewTableStore(connStr, table string) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, fmt.Errorf("table service: %w", err)
	}
	return &TableStore{table: svc.NewClient(table)}, nil
}

// EnsureTable creates the table when it does not exist yet.
func (s *TableStore) EnsureTable(ctx context.Context) error {
	_, err := s.table.CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

type taskEntity struct {
	aztables.Entity
	Title       string  `json:"Title"`
	Description *string `json:"Description,omitempty"`
	Priority    string  `json:"Priority"`
	Category    *string `json:"Category,omitempty"`
	DueDate     *string `json:"DueDate,omitempty"`
	Completed   bool    `json:"Completed"`
	Seq         string  `json:"Seq"`
}

func encodeTaskEntity(t domain.Task, seq int64) ([]byte, error) {
	ent := taskEntity{
		Entity:      aztables.Entity{PartitionKey: tasksPartition, RowKey: t.ID},
		Title:       t.Title,
		Description: t.Description,
		Priority:    string(t.Priority),
		Completed:   t.Completed,
		Seq:         fmt.Sprintf("%019d", seq),
	}
	if t.Category != nil {
		c := string(*t.Category)
		ent.Category = &c
	}
	if t.DueDate != nil {
		d := t.DueDate.String()
		ent.DueDate = &d
	}
	return sonic.Marshal(ent)
}

func decodeTaskEntity(data []byte) (domain.Task, int64, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, 0, fmt.Errorf("decode task entity: %w", err)
	}
	var seq int64
	if ent.Seq != "" {
		n, err := strconv.ParseInt(ent.Seq, 10, 64)
		if err != nil {
			return domain.Task{}, 0, fmt.Errorf("task %s: bad sequence %q", ent.RowKey, ent.Seq)
		}
		seq = n
	}
	p, err := domain.ParsePriority(ent.Priority)
	if err != nil {
		return domain.Task{}, 0, fmt.Errorf("task %s: %w", ent.RowKey, err)
	}
	t := domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Priority:    p,
		Completed:   ent.Completed,
	}
	if ent.Category != nil {
		c, err := domain.ParseCategory(*ent.Category)
		if err != nil {
			return domain.Task{}, 0, fmt.Errorf("task %s: %w", ent.RowKey, err)
		}
		t.Category = &c
	}
	if ent.DueDate != nil {
		d, err := civil.ParseDate(*ent.DueDate)
		if err != nil {
			return domain.Task{}, 0, fmt.Errorf("task %s: %w: %v", ent.RowKey, domain.ErrInvalidDate, err)
		}
		t.DueDate = &d
	}
	return t, seq, nil
}

func (s *TableStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + tasksPartition + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})

	type seqTask struct {
		task domain.Task
		seq  int64
	}
	var rows []seqTask
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list task entities: %w", err)
		}
		for _, e := range resp.Entities {
			t, seq, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			rows = append(rows, seqTask{task: t, seq: seq})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	tasks := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.task)
	}
	return tasks, nil
}

func (s *TableStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	resp, err := s.table.GetEntity(ctx, tasksPartition, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return domain.Task{}, domain.ErrTaskNotFound
		}
		return domain.Task{}, fmt.Errorf("get task entity: %w", err)
	}
	t, _, err := decodeTaskEntity(resp.Value)
	return t, err
}

func (s *TableStore) CreateTask(ctx context.Context, in domain.TaskCreate) (domain.Task, error) {
	task, err := domain.PrepareTask(domain.NewTaskID(), in)
	if err != nil {
		return domain.Task{}, err
	}
	payload, err := encodeTaskEntity(task, nextSeq())
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, fmt.Errorf("add task entity: %w", err)
	}
	return task, nil
}

func (s *TableStore) UpdateTask(ctx context.Context, id string, in domain.TaskCreate) (domain.Task, error) {
	task, err := domain.PrepareTask(id, in)
	if err != nil {
		return domain.Task{}, err
	}
	current, err := s.table.GetEntity(ctx, tasksPartition, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return domain.Task{}, domain.ErrTaskNotFound
		}
		return domain.Task{}, fmt.Errorf("get task entity: %w", err)
	}
	_, seq, err := decodeTaskEntity(current.Value)
	if err != nil {
		return domain.Task{}, err
	}
	payload, err := encodeTaskEntity(task, seq)
	if err != nil {
		return domain.Task{}, err
	}
	etag := current.ETag
	_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &etag,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return domain.Task{}, domain.ErrTaskNotFound
		}
		return domain.Task{}, fmt.Errorf("update task entity: %w", err)
	}
	return task, nil
}

func (s *TableStore) DeleteTask(ctx context.Context, id string) (bool, error) {
	if _, err := s.table.DeleteEntity(ctx, tasksPartition, id, nil); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("delete task entity: %w", err)
	}
	return true, nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

var lastSeq int64

// nextSeq returns a strictly increasing value used to keep listing in
// creation order.
func nextSeq() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastSeq)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastSeq, last, now) {
			return now
		}
	}
}
