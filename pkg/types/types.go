// Package types holds the data model shared by the dispatch server's
// queues, registry, persistence and wire codec.
package types

import "time"

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

// Kind is a capability tag a task declares and a worker may claim.
// The set is open-ended; these are the kinds the reference worker supports.
type Kind string

const (
	KindCheckPrime Kind = "CheckPrime"
	KindHashText   Kind = "HashText"
)

// Task is a single unit of dispatchable work.
type Task struct {
	ID              string     `json:"TaskId"`
	Kind            Kind       `json:"Type"`
	Payload         string     `json:"Data"`
	RetryCount      int        `json:"RetryCount"`
	CreatedAt       time.Time  `json:"CreatedAt"`
	LastRetryAt     *time.Time `json:"LastRetryAt,omitempty"`
	Status          Status     `json:"Status"`
	StatusUpdatedAt time.Time  `json:"StatusUpdatedAt"`
	ClientID        string     `json:"ClientId,omitempty"`
	ErrorMessage    string     `json:"ErrorMessage,omitempty"`
}

// Clone returns a copy safe to hand to a caller that may mutate it without
// affecting the version held by a queue or registry.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	if t.LastRetryAt != nil {
		lr := *t.LastRetryAt
		clone.LastRetryAt = &lr
	}
	return &clone
}

// WorkerStatus is the dispatch-time status of a connected worker handle.
type WorkerStatus string

const (
	WorkerIdle WorkerStatus = "idle"
	WorkerBusy WorkerStatus = "busy"
)

// WorkerInfo is a diagnostic snapshot of a worker handle, safe to serialize
// or print without holding the handle's lock.
type WorkerInfo struct {
	ID              string
	Name            string
	Capabilities    []Kind
	Status          WorkerStatus
	LastHeartbeatAt time.Time
	InFlightTaskID  string
	Registered      bool
}

// Statistics is a point-in-time snapshot recomputed on demand from
// persistence, never stored as its own authoritative record.
type Statistics struct {
	Pending     int       `json:"pending"`
	InProgress  int       `json:"in_progress"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	DeadLetter  int       `json:"dead_letter"`
	Total       int       `json:"total"`
	GeneratedAt time.Time `json:"generated_at"`
}
