// ABOUTME: Index chore: one tracked, idempotent index build
// ABOUTME: Wraps a background task keyed by (container, field, kind)

package index

import (
	"time"

	"github.com/annoserv/annostore/pkg/model"
	"github.com/annoserv/annostore/pkg/task"
)

// Key identifies one index build. At most one live chore exists per key.
type Key struct {
	Container string
	Field     string
	Kind      model.IndexKind
}

func (k Key) String() string {
	return k.Container + "/" + k.Field + "/" + string(k.Kind)
}

// Chore is one asynchronous index build. The embedded task owns state,
// timestamps and errors; readers only ever see Status copies.
type Chore struct {
	key Key
	t   *task.Task
}

func newChore(key Key, ttl time.Duration) *Chore {
	return &Chore{key: key, t: task.New(ttl)}
}

// Key returns the chore's identity.
func (c *Chore) Key() Key {
	return c.key
}

// Expired reports whether the finished chore has outlived its retention.
func (c *Chore) Expired(now time.Time) bool {
	return c.t.Expired(now)
}

// Status is the immutable point-in-time view of a chore.
type Status struct {
	ID        string          `json:"id"`
	Container string          `json:"container"`
	Field     string          `json:"field"`
	Kind      model.IndexKind `json:"kind"`
	State     task.State      `json:"state"`
	Errors    []string        `json:"errors,omitempty"`
	Created   time.Time       `json:"created"`
	Started   time.Time       `json:"started,omitzero"`
	Ended     time.Time       `json:"ended,omitzero"`
	Expires   time.Time       `json:"expires,omitzero"`
}

// Status returns the current snapshot.
func (c *Chore) Status() Status {
	st := c.t.Snapshot()
	return Status{
		ID:        st.ID,
		Container: c.key.Container,
		Field:     c.key.Field,
		Kind:      c.key.Kind,
		State:     st.State,
		Errors:    st.Errors,
		Created:   st.Created,
		Started:   st.Started,
		Ended:     st.Ended,
		Expires:   st.Expires,
	}
}
