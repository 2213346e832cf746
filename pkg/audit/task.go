// Package audit persists execution task records for remote-delegated action
// runs. Records are written once with a terminal status and never mutated.
package audit

import (
	"context"
	"sync"
	"time"
)

// Status is the terminal outcome recorded for a task.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ExecutionTask is the audit record for one remote delegation attempt.
// ResponseStatus carries the observed HTTP status when a response arrived;
// it is zero for transport failures.
type ExecutionTask struct {
	ID             string         `json:"id"`
	EventID        string         `json:"eventId"`
	ActionName     string         `json:"actionName"`
	ActionArgs     map[string]any `json:"actionArgs,omitempty"`
	ActionServerID string         `json:"actionServerId"`
	StartedAt      time.Time      `json:"startedAt"`
	EndedAt        time.Time      `json:"endedAt"`
	Status         Status         `json:"status"`
	FailureReason  string         `json:"failureReason,omitempty"`
	ResponseStatus int            `json:"responseStatus,omitempty"`
}

// TaskRepository is the durable store contract. CreateTask is fire-and-forget
// at call sites; a failed write must not block execution.
type TaskRepository interface {
	CreateTask(ctx context.Context, task *ExecutionTask) error
}

// MemoryTaskRepository keeps tasks in memory, for tests and dev mode.
type MemoryTaskRepository struct {
	mu    sync.Mutex
	tasks []*ExecutionTask
}

// NewMemoryTaskRepository creates an in-memory repository.
func NewMemoryTaskRepository() *MemoryTaskRepository {
	return &MemoryTaskRepository{}
}

func (r *MemoryTaskRepository) CreateTask(ctx context.Context, task *ExecutionTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *task
	r.tasks = append(r.tasks, &clone)
	return nil
}

// Tasks returns a snapshot of recorded tasks.
func (r *MemoryTaskRepository) Tasks() []*ExecutionTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ExecutionTask, len(r.tasks))
	copy(out, r.tasks)
	return out
}
