package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"todo-api/domain"
)

// Storage persists todos in an Azure table and publishes change events to a
// storage queue. Todos are partitioned by owner: PartitionKey is the owner id
// and RowKey the todo id, so listing a user's todos is a single-partition
// query and deleting checks owner and id in one conditional call.
type Storage struct {
	todoTable  *aztables.Client
	eventQueue *azqueue.QueueClient
}

// New creates a Storage from the given connection string.
func New(connStr, todosTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	tt := svc.NewClient(todosTable)
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{todoTable: tt, eventQueue: eq}, nil
}

type todoEntity struct {
	aztables.Entity
	Text      string `json:"Text"`
	Priority  string `json:"Priority"`
	DueDate   string `json:"DueDate,omitempty"`
	Completed bool   `json:"Completed"`
}

func entityFromTodo(t domain.Todo) todoEntity {
	ent := todoEntity{
		Entity:    aztables.Entity{PartitionKey: t.OwnerID, RowKey: t.ID},
		Text:      t.Text,
		Priority:  string(t.Priority),
		Completed: t.Completed,
	}
	if t.DueDate != nil {
		ent.DueDate = t.DueDate.UTC().Format(time.RFC3339)
	}
	return ent
}

func todoFromEntity(ent todoEntity) (domain.Todo, error) {
	t := domain.Todo{
		ID:        ent.RowKey,
		OwnerID:   ent.PartitionKey,
		Text:      ent.Text,
		Priority:  domain.Priority(ent.Priority),
		Completed: ent.Completed,
	}
	if ent.DueDate != "" {
		due, err := time.Parse(time.RFC3339, ent.DueDate)
		if err != nil {
			return domain.Todo{}, fmt.Errorf("todo %s has invalid due date %q: %w", ent.RowKey, ent.DueDate, err)
		}
		t.DueDate = &due
	}
	return t, nil
}

// InsertTodo stores a new todo under its owner's partition.
func (s *Storage) InsertTodo(ctx context.Context, t domain.Todo) error {
	payload, err := json.Marshal(entityFromTodo(t))
	if err != nil {
		return err
	}
	_, err = s.todoTable.AddEntity(ctx, payload, nil)
	return err
}

// GetTodo looks a todo up by id across all partitions. It returns nil when no
// row matches. The owner is unknown at this point, so the lookup has to scan
// on RowKey; the caller compares ownership afterwards.
func (s *Storage) GetTodo(ctx context.Context, id string) (*domain.Todo, error) {
	filter := "RowKey eq '" + sanitizeKey(id) + "'"
	pager := s.todoTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent todoEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			t, err := todoFromEntity(ent)
			if err != nil {
				return nil, err
			}
			return &t, nil
		}
	}
	return nil, nil
}

// ListTodos retrieves all todos owned by the provided user.
func (s *Storage) ListTodos(ctx context.Context, ownerID string) ([]domain.Todo, error) {
	filter := "PartitionKey eq '" + sanitizeKey(ownerID) + "'"
	pager := s.todoTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	todos := []domain.Todo{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent todoEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			t, err := todoFromEntity(ent)
			if err != nil {
				return nil, err
			}
			todos = append(todos, t)
		}
	}
	return todos, nil
}

// UpdateTodo replaces the stored row with the provided todo. The todo was
// fetched moments earlier; concurrent writers race and the last replace wins.
func (s *Storage) UpdateTodo(ctx context.Context, t domain.Todo) error {
	payload, err := json.Marshal(entityFromTodo(t))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.todoTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &et,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if isNotFound(err) {
		return domain.ErrNotFound
	}
	return err
}

// DeleteTodo removes the row keyed by owner and id in a single conditional
// call. A missing row and an ownership mismatch are indistinguishable here:
// both mean no entity exists under that partition and row key.
func (s *Storage) DeleteTodo(ctx context.Context, ownerID, id string) error {
	_, err := s.todoTable.DeleteEntity(ctx, ownerID, id, nil)
	if isNotFound(err) {
		return domain.ErrNotFound
	}
	return err
}

// PublishEvent enqueues a change event for downstream consumers.
func (s *Storage) PublishEvent(ctx context.Context, env domain.EventEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.eventQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

// sanitizeKey doubles single quotes so caller-supplied ids cannot break out
// of the OData filter literal.
func sanitizeKey(v string) string {
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, v[i])
	}
	return string(out)
}
