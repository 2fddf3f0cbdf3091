// ABOUTME: Background task state machine with pollable progress
// ABOUTME: Sub-unit failures accumulate without aborting remaining work

package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is a task lifecycle state. DONE and FAILED are terminal.
type State string

const (
	StateCreated State = "CREATED"
	StateRunning State = "RUNNING"
	StateDone    State = "DONE"
	StateFailed  State = "FAILED"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Routine is the operation-specific body of a task. It advances the task's
// progress counter per sub-unit, appends results and per-sub-unit error
// strings, and keeps going past individual failures. A returned error (or a
// panic) fails the whole task.
type Routine func(ctx context.Context, t *Task) error

// Task is one asynchronous unit of work. Once handed to Run it is owned by
// the worker; concurrent readers use Snapshot, never the task itself.
type Task struct {
	id  string
	ttl time.Duration

	progress atomic.Int64

	mu      sync.Mutex
	state   State
	created time.Time
	started time.Time
	ended   time.Time
	results []any
	errors  []string
}

// New creates a task in CREATED state. ttl bounds how long the finished
// task remains retrievable after completion; the owning registry enforces
// it.
func New(ttl time.Duration) *Task {
	return &Task{
		id:      uuid.NewString(),
		ttl:     ttl,
		state:   StateCreated,
		created: time.Now(),
	}
}

// ID returns the task id.
func (t *Task) ID() string {
	return t.id
}

// Run executes the routine, driving the state machine. A panic inside the
// routine is captured as the task failure and never escapes the worker.
// Tasks run to completion: cancellation of started work is unsupported.
func (t *Task) Run(ctx context.Context, routine Routine) {
	t.mu.Lock()
	if t.state != StateCreated {
		t.mu.Unlock()
		return
	}
	t.state = StateRunning
	t.started = time.Now()
	t.mu.Unlock()

	err := t.invoke(ctx, routine)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ended = time.Now()
	if err != nil {
		t.state = StateFailed
		t.errors = append(t.errors, err.Error())
	} else {
		t.state = StateDone
	}
}

func (t *Task) invoke(ctx context.Context, routine Routine) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task routine panicked: %v", r)
		}
	}()
	return routine(ctx, t)
}

// AddProgress advances the progress counter.
func (t *Task) AddProgress(n int64) {
	t.progress.Add(n)
}

// AppendResult records one successful sub-unit result.
func (t *Task) AppendResult(result any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, result)
}

// AppendError records one sub-unit failure without affecting the task
// outcome.
func (t *Task) AppendError(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors = append(t.errors, fmt.Sprintf(format, args...))
}

// Status is an immutable point-in-time summary of a task.
type Status struct {
	ID       string        `json:"id"`
	State    State         `json:"state"`
	Progress int64         `json:"progress"`
	Results  []any         `json:"results,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
	Created  time.Time     `json:"created"`
	Started  time.Time     `json:"started,omitzero"`
	Ended    time.Time     `json:"ended,omitzero"`
	Elapsed  time.Duration `json:"elapsed"`
	Expires  time.Time     `json:"expires,omitzero"`
}

// Snapshot returns an immutable copy of the task's current state. It never
// blocks the running routine beyond the brief field copy.
func (t *Task) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Status{
		ID:       t.id,
		State:    t.state,
		Progress: t.progress.Load(),
		Results:  append([]any(nil), t.results...),
		Errors:   append([]string(nil), t.errors...),
		Created:  t.created,
		Started:  t.started,
		Ended:    t.ended,
	}
	switch {
	case t.state == StateRunning:
		st.Elapsed = time.Since(t.started)
	case t.state.Terminal():
		st.Elapsed = t.ended.Sub(t.started)
		st.Expires = t.ended.Add(t.ttl)
	}
	return st
}

// Expired reports whether a terminal task has outlived its retention TTL.
func (t *Task) Expired(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Terminal() && now.After(t.ended.Add(t.ttl))
}
