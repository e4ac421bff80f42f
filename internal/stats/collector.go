// Package stats keeps throughput counters fed by the event bus.
//
// Counter keys follow a colon-separated layout such as "tasks:total",
// "tasks:category:vqa" or "responses:quality:high".
package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/hotlabel/internal/event"
)

// Counter keys.
const (
	KeyTasksTotal         = "tasks:total"
	KeyTasksAssigned      = "tasks:assigned"
	KeyTasksCompleted     = "tasks:completed"
	KeyTasksReclaimed     = "tasks:reclaimed"
	KeyTasksRetired       = "tasks:retired"
	KeyResponsesSubmitted = "responses:status:submitted"
	KeySweeps             = "sweeps:total"
	KeySweepFailures      = "sweeps:failed_evaluations"
	KeyWorkerResizes      = "sweeps:worker_resizes"

	prefixCategory      = "tasks:category:"
	prefixType          = "tasks:type:"
	prefixResponseState = "responses:status:"
	prefixQuality       = "responses:quality:"
)

// Depth is the most recent queue depth reported on the bus.
type Depth struct {
	Pending  int       `json:"pending"`
	Assigned int       `json:"assigned"`
	At       time.Time `json:"at"`
}

// Collector counts lifecycle events. It is safe for concurrent use.
type Collector struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
	depth    atomic.Pointer[Depth]

	subs *event.Group
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{counters: make(map[string]*atomic.Int64)}
}

// Attach subscribes the collector to bus. Call Detach to unsubscribe.
func (c *Collector) Attach(bus *event.Bus) {
	c.Detach()
	c.subs = bus.Group().
		On(event.TypeTaskCreated, c.handleTaskCreated).
		On(event.TypeTaskAssigned, c.count(KeyTasksAssigned)).
		On(event.TypeTaskCompleted, c.count(KeyTasksCompleted)).
		On(event.TypeTaskReclaimed, c.count(KeyTasksReclaimed)).
		On(event.TypeTaskRetired, c.count(KeyTasksRetired)).
		On(event.TypeQueueDepthChanged, c.handleDepth).
		On(event.TypeResponseSubmitted, c.count(KeyResponsesSubmitted)).
		On(event.TypeResponseEvaluated, c.handleEvaluated).
		On(event.TypeSweepCompleted, c.handleSweep).
		On(event.TypeWorkersScaled, c.count(KeyWorkerResizes))
}

// Detach removes every subscription made by Attach.
func (c *Collector) Detach() {
	if c.subs == nil {
		return
	}
	c.subs.Close()
	c.subs = nil
}

// Add increments the counter key by n.
func (c *Collector) Add(key string, n int64) {
	c.mu.RLock()
	ctr, ok := c.counters[key]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		if ctr, ok = c.counters[key]; !ok {
			ctr = &atomic.Int64{}
			c.counters[key] = ctr
		}
		c.mu.Unlock()
	}
	ctr.Add(n)
}

// Get returns the value of key, or zero.
func (c *Collector) Get(key string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ctr, ok := c.counters[key]; ok {
		return ctr.Load()
	}
	return 0
}

// Snapshot returns a copy of every counter.
func (c *Collector) Snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		out[k] = v.Load()
	}
	return out
}

// WithPrefix returns the counters under prefix keyed by the remainder.
func (c *Collector) WithPrefix(prefix string) map[string]int64 {
	out := make(map[string]int64)
	for k, v := range c.Snapshot() {
		if strings.HasPrefix(k, prefix) && len(k) > len(prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return out
}

// Categories returns created-task counts per category.
func (c *Collector) Categories() map[string]int64 { return c.WithPrefix(prefixCategory) }

// Types returns created-task counts per task type.
func (c *Collector) Types() map[string]int64 { return c.WithPrefix(prefixType) }

// Qualities returns evaluated-response counts per quality level.
func (c *Collector) Qualities() map[string]int64 { return c.WithPrefix(prefixQuality) }

// Statuses returns response counts per status, including "submitted".
func (c *Collector) Statuses() map[string]int64 { return c.WithPrefix(prefixResponseState) }

// Depth returns the last reported queue depth.
func (c *Collector) Depth() (Depth, bool) {
	d := c.depth.Load()
	if d == nil {
		return Depth{}, false
	}
	return *d, true
}

func (c *Collector) count(key string) event.Handler {
	return func(event.Event) { c.Add(key, 1) }
}

func (c *Collector) handleTaskCreated(e event.Event) {
	created, ok := e.(event.TaskCreatedEvent)
	if !ok {
		return
	}
	c.Add(KeyTasksTotal, 1)
	c.Add(prefixCategory+created.Category, 1)
	c.Add(prefixType+created.Type, 1)
}

func (c *Collector) handleDepth(e event.Event) {
	d, ok := e.(event.QueueDepthChangedEvent)
	if !ok {
		return
	}
	c.depth.Store(&Depth{Pending: d.Pending, Assigned: d.Assigned, At: d.Timestamp()})
}

func (c *Collector) handleEvaluated(e event.Event) {
	ev, ok := e.(event.ResponseEvaluatedEvent)
	if !ok {
		return
	}
	c.Add(prefixResponseState+ev.Outcome, 1)
	if ev.Level != "" {
		c.Add(prefixQuality+ev.Level, 1)
	}
}

func (c *Collector) handleSweep(e event.Event) {
	sweep, ok := e.(event.SweepCompletedEvent)
	if !ok {
		return
	}
	c.Add(KeySweeps, 1)
	if sweep.Failed > 0 {
		c.Add(KeySweepFailures, int64(sweep.Failed))
	}
}
