package model

import "time"

type TaskStatus string

const (
	TaskPending   TaskStatus = "Pending"
	TaskRunning   TaskStatus = "Running"
	TaskDone      TaskStatus = "Done"
	TaskFailed    TaskStatus = "Failed"
	TaskCancelled TaskStatus = "Cancelled"
)

// ScheduledMessage is a one-time text queued for delivery at Time (HH:MM).
type ScheduledMessage struct {
	ID      string    `json:"id"`
	Phone   string    `json:"phone"`
	Message string    `json:"message"`
	Time    string    `json:"time"`
	FireAt  time.Time `json:"fire_at"`
}

// Task is a ScheduledMessage as held by the local work queue.
type Task struct {
	ScheduledMessage
	Tag       string     `json:"tag"`
	Status    TaskStatus `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	DoneAt    time.Time  `json:"done_at,omitempty"`
}

type QueueSchema struct {
	Tasks []*Task `json:"tasks"`
}
