// ABOUTME: Multi-container search tasks and their pollable registry
// ABOUTME: Task ids are unguessable capabilities; finished tasks expire

package service

import (
	"context"
	"sync"
	"time"

	"github.com/annoserv/annostore/pkg/access"
	"github.com/annoserv/annostore/pkg/container"
	"github.com/annoserv/annostore/pkg/errs"
	"github.com/annoserv/annostore/pkg/model"
	"github.com/annoserv/annostore/pkg/query"
	"github.com/annoserv/annostore/pkg/task"
)

// taskRegistry tracks running and recently finished tasks by id. Expired
// tasks are purged lazily on lookup and insert.
type taskRegistry struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
	ttl   time.Duration
}

func newTaskRegistry(ttl time.Duration) *taskRegistry {
	return &taskRegistry{tasks: make(map[string]*task.Task), ttl: ttl}
}

func (r *taskRegistry) add(t *task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purge()
	r.tasks[t.ID()] = t
}

func (r *taskRegistry) get(id string) (*task.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purge()
	t, ok := r.tasks[id]
	return t, ok
}

func (r *taskRegistry) purge() {
	now := time.Now()
	for id, t := range r.tasks {
		if t.Expired(now) {
			delete(r.tasks, id)
		}
	}
}

// StartMultiSearch launches a background task counting the query's hits in
// each named container; with no containers given, every container is
// searched. Containers the principal may not read, and containers whose
// count fails, are recorded as sub-unit errors without failing the task.
func (s *Service) StartMultiSearch(ctx context.Context, p model.Principal, containers []string, q query.Query) (task.Status, error) {
	// Reject malformed queries before any task exists.
	if _, err := query.Compile(q); err != nil {
		return task.Status{}, err
	}
	if len(containers) == 0 {
		all, err := s.containers.List(ctx)
		if err != nil {
			return task.Status{}, err
		}
		containers = all
	}

	count := func(ctx context.Context, containerName string, q query.Query) (int64, error) {
		if err := s.gate.Authorize(ctx, p, containerName, access.AnyRole, true); err != nil {
			return 0, err
		}
		return s.pager.Count(ctx, container.Collection(containerName), q)
	}

	t := task.New(s.tasks.ttl)
	s.tasks.add(t)
	s.pool.Submit(func() {
		// Started tasks run to completion regardless of the request context.
		t.Run(context.Background(), task.MultiSearch(containers, q, count))
	})
	s.log.Info().Str("task", t.ID()).Int("containers", len(containers)).
		Msg("multi-container search submitted")
	return t.Snapshot(), nil
}

// GetTask returns the current snapshot of a task. The unguessable id is the
// access capability; expired tasks are NotFound.
func (s *Service) GetTask(id string) (task.Status, error) {
	t, ok := s.tasks.get(id)
	if !ok {
		return task.Status{}, errs.NotFound("task %q not found or expired", id)
	}
	return t.Snapshot(), nil
}
