package taskstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/hotlabel/internal/event"
)

// EventStore wraps a Store and publishes lifecycle events to a bus after
// each successful transition. Queue depth is tracked incrementally so the
// hot path never scans the store.
type EventStore struct {
	Store
	bus *event.Bus

	pending  atomic.Int64
	assigned atomic.Int64
}

// NewEventStore creates an EventStore publishing on bus. Initial queue
// depth is read from the wrapped store.
func NewEventStore(ctx context.Context, s Store, bus *event.Bus) (*EventStore, error) {
	es := &EventStore{Store: s, bus: bus}
	if err := es.resync(ctx); err != nil {
		return nil, err
	}
	return es, nil
}

func (es *EventStore) resync(ctx context.Context) error {
	c, err := es.Store.Counts(ctx)
	if err != nil {
		return err
	}
	es.pending.Store(int64(c.Pending))
	es.assigned.Store(int64(c.Assigned))
	return nil
}

// CreateTask creates a task and publishes a TaskCreatedEvent.
func (es *EventStore) CreateTask(ctx context.Context, task *Task) (*Task, error) {
	t, err := es.Store.CreateTask(ctx, task)
	if err != nil {
		return nil, err
	}
	es.pending.Add(1)
	es.bus.Publish(event.NewTaskCreatedEvent(t.ID, t.TrackID, t.Language, string(t.Category), string(t.Type)))
	es.publishDepth()
	return t, nil
}

// CreateBatch routes every item through CreateTask so each created task
// is announced.
func (es *EventStore) CreateBatch(ctx context.Context, tasks []*Task) []BatchItemResult {
	return createBatch(ctx, es, tasks)
}

// TryAssign assigns a task and publishes a TaskAssignedEvent.
func (es *EventStore) TryAssign(ctx context.Context, id, sessionID string, ttl time.Duration) (*Task, error) {
	t, err := es.Store.TryAssign(ctx, id, sessionID, ttl)
	if err != nil {
		return nil, err
	}
	es.pending.Add(-1)
	es.assigned.Add(1)
	var expires time.Time
	if t.ExpiresAt != nil {
		expires = *t.ExpiresAt
	}
	es.bus.Publish(event.NewTaskAssignedEvent(t.ID, sessionID, expires))
	es.publishDepth()
	return t, nil
}

// Reclaim reclaims an expired assignment and publishes a TaskReclaimedEvent
// when a transition happened.
func (es *EventStore) Reclaim(ctx context.Context, id string, now time.Time) (bool, error) {
	ok, err := es.Store.Reclaim(ctx, id, now)
	if err != nil || !ok {
		return ok, err
	}
	es.assigned.Add(-1)
	es.pending.Add(1)
	es.bus.Publish(event.NewTaskReclaimedEvent(id))
	es.publishDepth()
	return true, nil
}

// Finalize completes a task and publishes a TaskCompletedEvent.
func (es *EventStore) Finalize(ctx context.Context, id, sessionID string) (*Task, error) {
	t, err := es.Store.Finalize(ctx, id, sessionID)
	if err != nil {
		return nil, err
	}
	es.assigned.Add(-1)
	es.bus.Publish(event.NewTaskCompletedEvent(id, sessionID))
	es.publishDepth()
	return t, nil
}

// Retire retires a task and publishes a TaskRetiredEvent. The prior state
// is unknown here, so depth is recounted.
func (es *EventStore) Retire(ctx context.Context, id string) (*Task, error) {
	t, err := es.Store.Retire(ctx, id)
	if err != nil {
		return nil, err
	}
	es.bus.Publish(event.NewTaskRetiredEvent(id))
	if err := es.resync(ctx); err == nil {
		es.publishDepth()
	}
	return t, nil
}

// Depth returns the tracked pending and assigned counts.
func (es *EventStore) Depth() (pending, assigned int) {
	return int(es.pending.Load()), int(es.assigned.Load())
}

func (es *EventStore) publishDepth() {
	pending, assigned := es.Depth()
	es.bus.Publish(event.NewQueueDepthChangedEvent(pending, assigned))
}

// Ensure the decorator still satisfies Store at compile time.
var _ Store = (*EventStore)(nil)
