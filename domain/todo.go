package domain

import "time"

// Priority labels how urgent a todo is. Low, Medium and High are the values
// clients are expected to send, but anything they supply is stored as-is;
// validating the label would break existing clients that rely on pass-through.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// Todo is a single task owned by exactly one user. OwnerID is set once at
// creation from the authenticated caller and never changes afterwards.
type Todo struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"ownerId"`
	Text      string     `json:"text"`
	Priority  Priority   `json:"priority"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
	Completed bool       `json:"completed"`
}

// TodoUpdate carries a partial field set for an update. Text, Priority and
// DueDate keep the stored value when left at their zero value; Completed
// overrides the stored value whenever it is non-nil, including an explicit
// false. A client therefore cannot clear text, priority or the due date by
// sending an empty value.
type TodoUpdate struct {
	Text      string
	Priority  Priority
	DueDate   *time.Time
	Completed *bool
}

// Apply merges upd into t following the keep-on-empty rule above.
func (t *Todo) Apply(upd TodoUpdate) {
	if upd.Text != "" {
		t.Text = upd.Text
	}
	if upd.Priority != "" {
		t.Priority = upd.Priority
	}
	if upd.DueDate != nil {
		t.DueDate = upd.DueDate
	}
	if upd.Completed != nil {
		t.Completed = *upd.Completed
	}
}
