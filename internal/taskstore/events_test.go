package taskstore

import (
	"context"
	"testing"
	"time"

	"github.com/Iron-Ham/hotlabel/internal/event"
)

type recorder struct {
	types  []string
	depths []event.QueueDepthChangedEvent
}

func newRecordingStore(t *testing.T) (*EventStore, *recorder, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	bus := event.NewBus(nil)
	rec := &recorder{}
	bus.SubscribeAll(func(e event.Event) {
		rec.types = append(rec.types, e.EventType())
		if d, ok := e.(event.QueueDepthChangedEvent); ok {
			rec.depths = append(rec.depths, d)
		}
	})
	es, err := NewEventStore(context.Background(), NewMemoryStore(WithClock(clock.Now)), bus)
	if err != nil {
		t.Fatalf("NewEventStore: %v", err)
	}
	return es, rec, clock
}

func (r *recorder) count(eventType string) int {
	n := 0
	for _, et := range r.types {
		if et == eventType {
			n++
		}
	}
	return n
}

func TestEventStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	es, rec, clock := newRecordingStore(t)

	results := es.CreateBatch(ctx, []*Task{newTask("a", "en"), newTask("b", "en"), newTask("a", "en")})
	if results[2].Err == nil {
		t.Fatal("duplicate in batch should fail")
	}
	if rec.count(event.TypeTaskCreated) != 2 {
		t.Errorf("task.created published %d times, want 2", rec.count(event.TypeTaskCreated))
	}

	if _, err := es.TryAssign(ctx, "a", "s-1", time.Minute); err != nil {
		t.Fatalf("TryAssign: %v", err)
	}
	if _, err := es.TryAssign(ctx, "a", "s-2", time.Minute); err == nil {
		t.Fatal("second TryAssign should conflict")
	}
	if rec.count(event.TypeTaskAssigned) != 1 {
		t.Errorf("task.assigned published %d times, want 1", rec.count(event.TypeTaskAssigned))
	}

	if pending, assigned := es.Depth(); pending != 1 || assigned != 1 {
		t.Errorf("Depth() = %d/%d, want 1/1", pending, assigned)
	}

	clock.Advance(2 * time.Minute)
	if ok, err := es.Reclaim(ctx, "a", clock.Now()); err != nil || !ok {
		t.Fatalf("Reclaim = %v, %v", ok, err)
	}
	if ok, _ := es.Reclaim(ctx, "a", clock.Now()); ok {
		t.Fatal("second Reclaim should be a no-op")
	}
	if rec.count(event.TypeTaskReclaimed) != 1 {
		t.Errorf("task.reclaimed published %d times, want 1", rec.count(event.TypeTaskReclaimed))
	}

	_, _ = es.TryAssign(ctx, "b", "s-3", time.Minute)
	if _, err := es.Finalize(ctx, "b", "s-3"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if rec.count(event.TypeTaskCompleted) != 1 {
		t.Errorf("task.completed published %d times, want 1", rec.count(event.TypeTaskCompleted))
	}

	if _, err := es.Retire(ctx, "a"); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if rec.count(event.TypeTaskRetired) != 1 {
		t.Errorf("task.retired published %d times, want 1", rec.count(event.TypeTaskRetired))
	}

	last := rec.depths[len(rec.depths)-1]
	if last.Pending != 0 || last.Assigned != 0 {
		t.Errorf("final depth = %d/%d, want 0/0", last.Pending, last.Assigned)
	}
}

func TestNewEventStore_SeedsDepth(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	_, _ = inner.CreateTask(ctx, newTask("a", "en"))
	_, _ = inner.CreateTask(ctx, newTask("b", "en"))
	_, _ = inner.TryAssign(ctx, "b", "s-1", time.Minute)

	es, err := NewEventStore(ctx, inner, event.NewBus(nil))
	if err != nil {
		t.Fatalf("NewEventStore: %v", err)
	}
	if pending, assigned := es.Depth(); pending != 1 || assigned != 1 {
		t.Errorf("Depth() = %d/%d, want 1/1", pending, assigned)
	}
}
