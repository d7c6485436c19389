package model

import "time"

// DefaultStatus is assigned to every newly created task.
const DefaultStatus = "running"

type Task struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	RoleAdmin    = "admin"
	RoleReadonly = "readonly"
)

// Identity is an authenticated caller.
type Identity struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// TaskEvent records a committed change to a task and who made it.
type TaskEvent struct {
	ID         int64     `json:"id,omitempty"`
	TaskID     int64     `json:"task_id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
	Attempts   int       `json:"attempts,omitempty"`
}
