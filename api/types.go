package api

import (
	"context"

	"todo-api/domain"
)

// TodoAPI is the application service the handlers delegate to.
type TodoAPI interface {
	Create(ctx context.Context, ownerID string, in domain.CreateInput) (domain.Todo, error)
	List(ctx context.Context, ownerID string) ([]domain.Todo, error)
	Update(ctx context.Context, ownerID, id string, upd domain.TodoUpdate) (domain.Todo, error)
	Toggle(ctx context.Context, ownerID, id string) (domain.Todo, error)
	Delete(ctx context.Context, ownerID, id string) (string, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}
