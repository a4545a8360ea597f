package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"todo-api/domain"
)

// Cache wraps a domain.Storage with a Redis-backed read cache for the todo
// list. Every write evicts the owner's cached list so readers never see a
// deleted or stale todo for longer than one request.
type Cache struct {
	base  domain.Storage
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base domain.Storage, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTodos(ctx context.Context, ownerID string) ([]domain.Todo, error) {
	if todos, ok := c.loadFromCache(ctx, ownerID); ok {
		return todos, nil
	}

	todos, err := c.base.ListTodos(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, ownerID, todos)
	return todos, nil
}

func (c *Cache) GetTodo(ctx context.Context, id string) (*domain.Todo, error) {
	return c.base.GetTodo(ctx, id)
}

func (c *Cache) InsertTodo(ctx context.Context, t domain.Todo) error {
	if err := c.base.InsertTodo(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.OwnerID)
	return nil
}

func (c *Cache) UpdateTodo(ctx context.Context, t domain.Todo) error {
	if err := c.base.UpdateTodo(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.OwnerID)
	return nil
}

func (c *Cache) DeleteTodo(ctx context.Context, ownerID, id string) error {
	if err := c.base.DeleteTodo(ctx, ownerID, id); err != nil {
		return err
	}
	c.evict(ctx, ownerID)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, ownerID string) ([]domain.Todo, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, todosCacheKey(ownerID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, todosCacheKey(ownerID)).Err()
		}
		return nil, false
	}
	var todos []domain.Todo
	if err := json.Unmarshal(data, &todos); err != nil {
		_ = c.redis.Del(ctx, todosCacheKey(ownerID)).Err()
		return nil, false
	}
	return todos, true
}

func (c *Cache) store(ctx context.Context, ownerID string, todos []domain.Todo) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(todos)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, todosCacheKey(ownerID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, ownerID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, todosCacheKey(ownerID)).Err()
}

func todosCacheKey(ownerID string) string {
	return "todos:" + ownerID
}
