package scaling

import (
	"context"
	"sync"

	"github.com/Iron-Ham/hotlabel/internal/event"
	"github.com/Iron-Ham/hotlabel/internal/logging"
)

// BacklogFunc reports how many responses are waiting for review.
type BacklogFunc func(ctx context.Context) (int, error)

// Monitor re-evaluates the policy after every evaluator sweep and reports
// worker-count changes.
type Monitor struct {
	mu       sync.Mutex
	bus      *event.Bus
	policy   *Policy
	backlog  BacklogFunc
	logger   *logging.Logger
	handlers []func(Decision)
	subID    string
	cancel   context.CancelFunc

	// currentWorkers is maintained by the monitor. It follows every
	// decision it reports; SetCurrentWorkers overrides it.
	currentWorkers int
}

// NewMonitor creates a Monitor that evaluates policy whenever a
// SweepCompletedEvent is received on the bus.
func NewMonitor(bus *event.Bus, policy *Policy, backlog BacklogFunc, initialWorkers int) *Monitor {
	return &Monitor{
		bus:            bus,
		policy:         policy,
		backlog:        backlog,
		logger:         logging.NopLogger(),
		currentWorkers: initialWorkers,
	}
}

// SetLogger sets the logger used for backlog read failures.
func (m *Monitor) SetLogger(l *logging.Logger) {
	if l == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = l.WithComponent("scaling")
}

// OnDecision registers a callback that is invoked when a non-none scaling
// decision is made. Multiple handlers may be registered.
func (m *Monitor) OnDecision(handler func(Decision)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// SetCurrentWorkers updates the worker count known to the monitor.
func (m *Monitor) SetCurrentWorkers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentWorkers = n
}

// CurrentWorkers returns the worker count known to the monitor.
func (m *Monitor) CurrentWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentWorkers
}

// Start subscribes to sweep events and begins evaluating the policy.
// It blocks until the context is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	subID := m.bus.Subscribe(event.TypeSweepCompleted, func(e event.Event) {
		if _, ok := e.(event.SweepCompletedEvent); !ok {
			return
		}
		m.check(ctx)
	})

	m.mu.Lock()
	m.subID = subID
	m.cancel = cancel
	m.mu.Unlock()

	<-ctx.Done()
}

// check reads the backlog, evaluates the policy and notifies handlers of
// any change.
func (m *Monitor) check(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	backlog, err := m.backlog(ctx)

	m.mu.Lock()
	logger := m.logger
	if err != nil {
		m.mu.Unlock()
		logger.Warn("read review backlog", "error", err)
		return
	}
	current := m.currentWorkers
	decision := m.policy.Evaluate(backlog, current)
	if decision.Action == ActionNone {
		m.mu.Unlock()
		return
	}
	m.currentWorkers = decision.Target
	handlers := make([]func(Decision), len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	logger.Info("evaluator pool resized",
		"action", decision.Action.String(),
		"from", current,
		"to", decision.Target,
		"reason", decision.Reason,
	)
	m.bus.Publish(event.NewWorkersScaledEvent(
		decision.Action.String(), current, decision.Target, decision.Reason,
	))
	for _, h := range handlers {
		h(decision)
	}
}

// Stop unsubscribes from events and cancels the monitor.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	subID := m.subID
	m.mu.Unlock()

	if subID != "" {
		m.bus.Unsubscribe(subID)
	}
	if cancel != nil {
		cancel()
	}
}
