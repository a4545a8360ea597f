package domain

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Change event types published after successful mutations.
const (
	TodoCreated   = "todo-created"
	TodoUpdated   = "todo-updated"
	TodoCompleted = "todo-completed"
	TodoReopened  = "todo-reopened"
	TodoDeleted   = "todo-deleted"
)

// Event describes a single committed mutation for downstream consumers.
type Event struct {
	ID       string          `json:"id"`
	EntityID string          `json:"entityId"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Time     int64           `json:"time"`
}

// EventEnvelope wraps an event with the user that performed it.
type EventEnvelope struct {
	UserID string `json:"userId"`
	Event  Event  `json:"event"`
}

var lastEventTime int64

// nextEventTime returns strictly increasing nanosecond timestamps so
// consumers can order events from a single instance even when two mutations
// land within the same clock tick.
func nextEventTime() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastEventTime)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastEventTime, last, now) {
			return now
		}
	}
}
