package engine

import (
	"sync"
)

// TaskState tracks one pipeline unit. Terminal states are final.
type TaskState string

const (
	TaskSpawned   TaskState = "spawned"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// TaskHandle is the caller's view of a spawned unit. Results are never
// returned through it; completion and terminal state are all it exposes.
type TaskHandle struct {
	ID      string
	EventID string

	mu    sync.Mutex
	state TaskState
	err   error
	done  chan struct{}
}

func newTaskHandle(id, eventID string) *TaskHandle {
	return &TaskHandle{
		ID:      id,
		EventID: eventID,
		state:   TaskSpawned,
		done:    make(chan struct{}),
	}
}

// Done closes when the task reaches a terminal state.
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// State returns the current task state.
func (h *TaskHandle) State() TaskState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the failure cause for a failed task, nil otherwise.
func (h *TaskHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *TaskHandle) setRunning() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == TaskSpawned {
		h.state = TaskRunning
	}
}

func (h *TaskHandle) finish(state TaskState, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return
	}
	h.state = state
	h.err = err
	close(h.done)
}
