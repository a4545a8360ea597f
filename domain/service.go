package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Storage defines the persistence operations the todo service requires.
type Storage interface {
	// InsertTodo stores a new todo under its owner.
	InsertTodo(ctx context.Context, t Todo) error
	// GetTodo looks a todo up by id regardless of owner. It returns nil
	// without error when no such todo exists.
	GetTodo(ctx context.Context, id string) (*Todo, error)
	// ListTodos returns every todo owned by ownerID in store-native order.
	ListTodos(ctx context.Context, ownerID string) ([]Todo, error)
	// UpdateTodo writes back a previously fetched todo.
	UpdateTodo(ctx context.Context, t Todo) error
	// DeleteTodo removes the todo only when both owner and id match in a
	// single conditional operation. It returns ErrNotFound when no matching
	// record exists.
	DeleteTodo(ctx context.Context, ownerID, id string) error
}

// EventSink publishes change events for downstream consumers.
type EventSink interface {
	PublishEvent(ctx context.Context, env EventEnvelope) error
}

// CreateInput carries the caller-supplied fields for a new todo.
type CreateInput struct {
	Text     string
	Priority Priority
	DueDate  *time.Time
}

// TodoService enforces ownership and the field merge rules over a Storage.
// Update and Toggle are read-modify-write sequences with no locking; two
// concurrent writes to the same todo race and the last write wins.
type TodoService struct {
	st     Storage
	events EventSink
	log    *log.Logger
}

// NewTodoService creates a service over the given storage. events may be nil
// when no downstream consumers are configured.
func NewTodoService(st Storage, events EventSink, logger *log.Logger) *TodoService {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &TodoService{st: st, events: events, log: logger}
}

// Create stores a new todo owned by ownerID. Text is required; Priority
// defaults to Medium when empty and is otherwise stored unvalidated.
func (s *TodoService) Create(ctx context.Context, ownerID string, in CreateInput) (Todo, error) {
	if in.Text == "" {
		return Todo{}, ValidationError{Reason: "please add a text value"}
	}
	t := Todo{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Text:      in.Text,
		Priority:  in.Priority,
		DueDate:   in.DueDate,
		Completed: false,
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if err := s.st.InsertTodo(ctx, t); err != nil {
		return Todo{}, fmt.Errorf("insert todo: %w", err)
	}
	s.publish(ctx, ownerID, TodoCreated, t.ID, t)
	return t, nil
}

// List returns every todo owned by ownerID. An empty result is not an error.
func (s *TodoService) List(ctx context.Context, ownerID string) ([]Todo, error) {
	todos, err := s.st.ListTodos(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	if todos == nil {
		todos = []Todo{}
	}
	return todos, nil
}

// Update applies a partial field set to the caller's todo and returns the
// merged result. It fails with ErrNotFound when the id is unknown and
// ErrNotOwner when the todo belongs to someone else.
func (s *TodoService) Update(ctx context.Context, ownerID, id string, upd TodoUpdate) (Todo, error) {
	t, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return Todo{}, err
	}
	t.Apply(upd)
	if err := s.st.UpdateTodo(ctx, *t); err != nil {
		return Todo{}, fmt.Errorf("update todo: %w", err)
	}
	s.publish(ctx, ownerID, TodoUpdated, id, *t)
	return *t, nil
}

// Toggle flips the completion flag of the caller's todo.
func (s *TodoService) Toggle(ctx context.Context, ownerID, id string) (Todo, error) {
	t, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return Todo{}, err
	}
	t.Completed = !t.Completed
	if err := s.st.UpdateTodo(ctx, *t); err != nil {
		return Todo{}, fmt.Errorf("toggle todo: %w", err)
	}
	evType := TodoReopened
	if t.Completed {
		evType = TodoCompleted
	}
	s.publish(ctx, ownerID, evType, id, *t)
	return *t, nil
}

// Delete removes the caller's todo and returns its id as confirmation. A
// missing id and an ownership mismatch both surface as ErrNotFound, so the
// caller cannot tell whether someone else's todo exists.
func (s *TodoService) Delete(ctx context.Context, ownerID, id string) (string, error) {
	if err := s.st.DeleteTodo(ctx, ownerID, id); err != nil {
		return "", err
	}
	s.publish(ctx, ownerID, TodoDeleted, id, nil)
	return id, nil
}

func (s *TodoService) owned(ctx context.Context, ownerID, id string) (*Todo, error) {
	t, err := s.st.GetTodo(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch todo: %w", err)
	}
	if t == nil {
		return nil, ErrNotFound
	}
	if t.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return t, nil
}

// publish sends a change event. Delivery is best-effort: the mutation has
// already committed, so a sink failure is logged rather than surfaced.
func (s *TodoService) publish(ctx context.Context, ownerID, evType, entityID string, data any) {
	if s.events == nil {
		return
	}
	ev := Event{
		ID:       uuid.NewString(),
		EntityID: entityID,
		Type:     evType,
		Time:     nextEventTime(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			s.log.WithFields(log.Fields{"todo": entityID, "type": evType}).Warnf("encode event: %v", err)
			return
		}
		ev.Data = raw
	}
	if err := s.events.PublishEvent(ctx, EventEnvelope{UserID: ownerID, Event: ev}); err != nil {
		s.log.WithFields(log.Fields{"todo": entityID, "type": evType}).Warnf("publish event: %v", err)
	}
}
