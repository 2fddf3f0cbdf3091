// ABOUTME: Multi-container search task counting hits per container
// ABOUTME: Per-container failures are isolated; the task still completes

package task

import (
	"context"

	"github.com/annoserv/annostore/pkg/query"
)

// CountFunc counts the hits of a query in one container. Implemented by the
// search layer; injected so the task stays free of storage wiring.
type CountFunc func(ctx context.Context, container string, q query.Query) (int64, error)

// ContainerHits is one sub-unit result of a multi-container search.
type ContainerHits struct {
	Container string `json:"container"`
	Hits      int64  `json:"hits"`
}

// MultiSearch builds the routine for a search spanning several containers.
// Each container is one sub-unit of progress; a failing container is
// recorded and skipped, never aborting the remaining ones.
func MultiSearch(containers []string, q query.Query, count CountFunc) Routine {
	return func(ctx context.Context, t *Task) error {
		for _, container := range containers {
			hits, err := count(ctx, container, q)
			if err != nil {
				t.AppendError("container %q: %v", container, err)
			} else {
				t.AppendResult(ContainerHits{Container: container, Hits: hits})
			}
			t.AddProgress(1)
		}
		return nil
	}
}
