package domain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

type fakeStore struct {
	mu    sync.Mutex
	todos map[string]Todo

	insertErr error
	getErr    error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{todos: map[string]Todo{}}
}

func (f *fakeStore) InsertTodo(_ context.Context, t Todo) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.todos[t.ID] = t
	return nil
}

func (f *fakeStore) GetTodo(_ context.Context, id string) (*Todo, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.todos[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) ListTodos(_ context.Context, ownerID string) ([]Todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Todo
	for _, t := range f.todos {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateTodo(_ context.Context, t Todo) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.todos[t.ID]; !ok {
		return ErrNotFound
	}
	f.todos[t.ID] = t
	return nil
}

func (f *fakeStore) DeleteTodo(_ context.Context, ownerID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.todos[id]
	if !ok || t.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(f.todos, id)
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []EventEnvelope
	err    error
}

func (f *fakeSink) PublishEvent(_ context.Context, env EventEnvelope) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, env)
	return nil
}

func (f *fakeSink) byType(evType string) []EventEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []EventEnvelope
	for _, env := range f.events {
		if env.Event.Type == evType {
			out = append(out, env)
		}
	}
	return out
}

func newTestService(st *fakeStore, sink *fakeSink) *TodoService {
	logger, _ := test.NewNullLogger()
	return NewTodoService(st, sink, logger)
}

func TestCreateDefaults(t *testing.T) {
	st := newFakeStore()
	sink := &fakeSink{}
	svc := newTestService(st, sink)

	todo, err := svc.Create(context.Background(), "user-a", CreateInput{Text: "Buy milk"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if todo.ID == "" {
		t.Fatalf("expected assigned id")
	}
	if todo.OwnerID != "user-a" {
		t.Fatalf("expected owner user-a, got %q", todo.OwnerID)
	}
	if todo.Priority != PriorityMedium {
		t.Fatalf("expected default priority Medium, got %q", todo.Priority)
	}
	if todo.Completed {
		t.Fatalf("expected new todo to start active")
	}
	if todo.DueDate != nil {
		t.Fatalf("expected no due date, got %v", todo.DueDate)
	}
	if got := sink.byType(TodoCreated); len(got) != 1 || got[0].UserID != "user-a" {
		t.Fatalf("expected one created event for user-a, got %#v", got)
	}
}

func TestCreateRejectsMissingText(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, &fakeSink{})

	_, err := svc.Create(context.Background(), "user-a", CreateInput{})
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(st.todos) != 0 {
		t.Fatalf("expected no todo stored, got %d", len(st.todos))
	}
}

func TestCreateKeepsArbitraryPriority(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeSink{})

	todo, err := svc.Create(context.Background(), "user-a", CreateInput{Text: "x", Priority: "Whenever"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if todo.Priority != "Whenever" {
		t.Fatalf("expected priority pass-through, got %q", todo.Priority)
	}
}

func TestListIsOwnerScoped(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, &fakeSink{})
	ctx := context.Background()

	if _, err := svc.Create(ctx, "user-a", CreateInput{Text: "a1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, "user-b", CreateInput{Text: "b1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	todos, err := svc.List(ctx, "user-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(todos) != 1 || todos[0].Text != "a1" {
		t.Fatalf("expected only user-a todos, got %#v", todos)
	}

	empty, err := svc.List(ctx, "user-c")
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestUpdateMergeRules(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, &fakeSink{})
	ctx := context.Background()

	due := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	created, err := svc.Create(ctx, "user-a", CreateInput{Text: "original", Priority: PriorityHigh, DueDate: &due})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Empty text and priority must fall back to the stored values.
	updated, err := svc.Update(ctx, "user-a", created.ID, TodoUpdate{Text: "", Priority: ""})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Text != "original" || updated.Priority != PriorityHigh {
		t.Fatalf("expected stored values kept, got %#v", updated)
	}
	if updated.DueDate == nil || !updated.DueDate.Equal(due) {
		t.Fatalf("expected due date kept, got %v", updated.DueDate)
	}

	done := true
	updated, err = svc.Update(ctx, "user-a", created.ID, TodoUpdate{Completed: &done})
	if err != nil {
		t.Fatalf("update completed: %v", err)
	}
	if !updated.Completed {
		t.Fatalf("expected completed true")
	}

	// Explicit false must override even though false is the zero value.
	done = false
	updated, err = svc.Update(ctx, "user-a", created.ID, TodoUpdate{Completed: &done})
	if err != nil {
		t.Fatalf("update completed false: %v", err)
	}
	if updated.Completed {
		t.Fatalf("expected explicit false to be applied")
	}
}

func TestUpdateUnknownID(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeSink{})

	_, err := svc.Update(context.Background(), "user-a", "missing", TodoUpdate{Text: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateForeignTodo(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, &fakeSink{})
	ctx := context.Background()

	created, err := svc.Create(ctx, "user-a", CreateInput{Text: "mine"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.Update(ctx, "user-b", created.ID, TodoUpdate{Text: "stolen"})
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if st.todos[created.ID].Text != "mine" {
		t.Fatalf("expected todo unchanged, got %q", st.todos[created.ID].Text)
	}
}

func TestToggleIsSelfInverse(t *testing.T) {
	st := newFakeStore()
	sink := &fakeSink{}
	svc := newTestService(st, sink)
	ctx := context.Background()

	created, err := svc.Create(ctx, "user-a", CreateInput{Text: "flip me"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := svc.Toggle(ctx, "user-a", created.ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !first.Completed {
		t.Fatalf("expected first toggle to complete the todo")
	}
	second, err := svc.Toggle(ctx, "user-a", created.ID)
	if err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	if second.Completed {
		t.Fatalf("expected second toggle to reopen the todo")
	}
	if len(sink.byType(TodoCompleted)) != 1 || len(sink.byType(TodoReopened)) != 1 {
		t.Fatalf("expected completed and reopened events, got %#v", sink.events)
	}
}

func TestToggleForeignTodo(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, &fakeSink{})
	ctx := context.Background()

	created, err := svc.Create(ctx, "user-a", CreateInput{Text: "mine"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Toggle(ctx, "user-b", created.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestDeleteIsNotIdempotent(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, &fakeSink{})
	ctx := context.Background()

	created, err := svc.Create(ctx, "user-a", CreateInput{Text: "gone soon"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	id, err := svc.Delete(ctx, "user-a", created.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if id != created.ID {
		t.Fatalf("expected deleted id %q, got %q", created.ID, id)
	}
	if _, err := svc.Delete(ctx, "user-a", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to fail with ErrNotFound, got %v", err)
	}
}

func TestDeleteMasksOwnershipMismatch(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, &fakeSink{})
	ctx := context.Background()

	created, err := svc.Create(ctx, "user-a", CreateInput{Text: "mine"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Delete(ctx, "user-b", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ownership mismatch masked as ErrNotFound, got %v", err)
	}
	if _, ok := st.todos[created.ID]; !ok {
		t.Fatalf("expected todo to survive foreign delete")
	}
}

func TestSinkFailureDoesNotFailMutation(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, &fakeSink{err: errors.New("queue down")})

	todo, err := svc.Create(context.Background(), "user-a", CreateInput{Text: "still works"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := st.todos[todo.ID]; !ok {
		t.Fatalf("expected todo stored despite sink failure")
	}
}

func TestUpdateSurfacesStoreErrors(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, &fakeSink{})
	ctx := context.Background()

	created, err := svc.Create(ctx, "user-a", CreateInput{Text: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	st.getErr = errors.New("read timeout")
	if _, err := svc.Update(ctx, "user-a", created.ID, TodoUpdate{Text: "y"}); !errors.Is(err, st.getErr) {
		t.Fatalf("expected wrapped fetch error, got %v", err)
	}

	st.getErr = nil
	st.updateErr = errors.New("write timeout")
	if _, err := svc.Update(ctx, "user-a", created.ID, TodoUpdate{Text: "y"}); !errors.Is(err, st.updateErr) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
}

func TestStoreErrorIsWrapped(t *testing.T) {
	st := newFakeStore()
	st.insertErr = errors.New("table offline")
	svc := newTestService(st, &fakeSink{})

	_, err := svc.Create(context.Background(), "user-a", CreateInput{Text: "x"})
	if err == nil || !errors.Is(err, st.insertErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	var ve ValidationError
	if errors.As(err, &ve) {
		t.Fatalf("store error must not look like validation: %v", err)
	}
}
