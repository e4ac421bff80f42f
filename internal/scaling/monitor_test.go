package scaling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/hotlabel/internal/event"
)

func staticBacklog(n *atomic.Int64) BacklogFunc {
	return func(context.Context) (int, error) { return int(n.Load()), nil }
}

// startMonitor runs m until the test ends and waits for it to subscribe.
func startMonitor(t *testing.T, bus *event.Bus, m *Monitor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(time.Second)
	for bus.SubscriptionCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("monitor did not subscribe")
		}
		time.Sleep(time.Millisecond)
	}
}

func sweepDone(bus *event.Bus) {
	bus.Publish(event.NewSweepCompletedEvent(0, 0, 0, 0, 0, time.Millisecond))
}

func TestMonitor_StartsAndStops(t *testing.T) {
	bus := event.NewBus(nil)
	var backlog atomic.Int64
	m := NewMonitor(bus, NewPolicy(WithCooldownPeriod(0)), staticBacklog(&backlog), 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after context cancel")
	}
}

func TestMonitor_StopMethod(t *testing.T) {
	bus := event.NewBus(nil)
	var backlog atomic.Int64
	m := NewMonitor(bus, NewPolicy(), staticBacklog(&backlog), 2)

	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()
	for bus.SubscriptionCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	m.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after Stop()")
	}
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Stop, want 0", bus.SubscriptionCount())
	}
}

func TestMonitor_ResizesAfterSweep(t *testing.T) {
	bus := event.NewBus(nil)
	var backlog atomic.Int64
	policy := NewPolicy(
		WithCooldownPeriod(0),
		WithMinWorkers(2),
		WithMaxWorkers(10),
		WithBacklogPerWorker(10),
	)
	m := NewMonitor(bus, policy, staticBacklog(&backlog), 2)

	var mu sync.Mutex
	var decisions []Decision
	m.OnDecision(func(d Decision) {
		mu.Lock()
		defer mu.Unlock()
		decisions = append(decisions, d)
	})
	startMonitor(t, bus, m)

	backlog.Store(45)
	sweepDone(bus)
	if got := m.CurrentWorkers(); got != 5 {
		t.Errorf("CurrentWorkers() after backlog 45 = %d, want 5", got)
	}

	backlog.Store(0)
	sweepDone(bus)
	sweepDone(bus)
	if got := m.CurrentWorkers(); got != 3 {
		t.Errorf("CurrentWorkers() after two idle sweeps = %d, want 3", got)
	}

	// Balanced load produces no decision.
	backlog.Store(25)
	sweepDone(bus)

	mu.Lock()
	defer mu.Unlock()
	if len(decisions) != 3 {
		t.Fatalf("decisions = %d, want 3", len(decisions))
	}
	if decisions[0].Action != ActionScaleUp || decisions[0].Delta != 3 {
		t.Errorf("first decision = %+v, want scale_up by 3", decisions[0])
	}
	if decisions[2].Action != ActionScaleDown || decisions[2].Target != 3 {
		t.Errorf("third decision = %+v, want scale_down to 3", decisions[2])
	}
}

func TestMonitor_PublishesWorkersScaledEvent(t *testing.T) {
	bus := event.NewBus(nil)
	var backlog atomic.Int64
	backlog.Store(500)
	m := NewMonitor(bus, NewPolicy(WithCooldownPeriod(0), WithMaxWorkers(4)), staticBacklog(&backlog), 1)

	startMonitor(t, bus, m)

	var got []event.WorkersScaledEvent
	var mu sync.Mutex
	bus.Subscribe(event.TypeWorkersScaled, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.(event.WorkersScaledEvent))
	})

	sweepDone(bus)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("WorkersScaledEvents = %d, want 1", len(got))
	}
	if got[0].Action != "scale_up" || got[0].From != 1 || got[0].To != 4 {
		t.Errorf("event = %+v, want scale_up 1 -> 4", got[0])
	}
}

func TestMonitor_BacklogErrorSkipsDecision(t *testing.T) {
	bus := event.NewBus(nil)
	failing := func(context.Context) (int, error) { return 0, errors.New("store closed") }
	m := NewMonitor(bus, NewPolicy(WithCooldownPeriod(0)), failing, 3)

	called := false
	m.OnDecision(func(Decision) { called = true })
	startMonitor(t, bus, m)

	sweepDone(bus)
	if called {
		t.Error("handler called despite backlog error")
	}
	if got := m.CurrentWorkers(); got != 3 {
		t.Errorf("CurrentWorkers() = %d, want 3", got)
	}
}

func TestMonitor_SetCurrentWorkers(t *testing.T) {
	var backlog atomic.Int64
	m := NewMonitor(event.NewBus(nil), NewPolicy(), staticBacklog(&backlog), 2)
	m.SetCurrentWorkers(7)
	if got := m.CurrentWorkers(); got != 7 {
		t.Errorf("CurrentWorkers() = %d, want 7", got)
	}
}

func TestMonitor_ConcurrentSweeps(t *testing.T) {
	bus := event.NewBus(nil)
	var backlog atomic.Int64
	backlog.Store(1000)
	m := NewMonitor(bus, NewPolicy(WithCooldownPeriod(0), WithMaxWorkers(8)), staticBacklog(&backlog), 1)

	var calls atomic.Int64
	m.OnDecision(func(Decision) { calls.Add(1) })
	startMonitor(t, bus, m)

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() { sweepDone(bus) })
	}
	wg.Wait()

	if got := m.CurrentWorkers(); got != 8 {
		t.Errorf("CurrentWorkers() = %d, want 8", got)
	}
	if calls.Load() != 1 {
		t.Errorf("decisions = %d, want 1 (later sweeps see a full pool)", calls.Load())
	}
}

func TestMonitor_Stop_BeforeStart(t *testing.T) {
	var backlog atomic.Int64
	m := NewMonitor(event.NewBus(nil), NewPolicy(), staticBacklog(&backlog), 1)
	// Should not panic
	m.Stop()
}
