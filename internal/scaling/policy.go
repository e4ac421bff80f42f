package scaling

import (
	"fmt"
	"sync"
	"time"
)

// Default policy values.
const (
	defaultMinWorkers         = 1
	defaultMaxWorkers         = 8
	defaultBacklogPerWorker   = 50
	defaultScaleDownThreshold = 0
	defaultCooldownPeriod     = 30 * time.Second
)

// Option configures a Policy.
type Option func(*Policy)

// WithMinWorkers sets the smallest pool the policy will recommend.
func WithMinWorkers(n int) Option {
	return func(p *Policy) { p.minWorkers = n }
}

// WithMaxWorkers sets the largest pool the policy will recommend.
func WithMaxWorkers(n int) Option {
	return func(p *Policy) { p.maxWorkers = n }
}

// WithBacklogPerWorker sets how many waiting responses one worker is
// expected to absorb before another is added.
func WithBacklogPerWorker(n int) Option {
	return func(p *Policy) { p.backlogPerWorker = n }
}

// WithScaleDownThreshold sets the backlog at or below which one worker is
// removed.
func WithScaleDownThreshold(n int) Option {
	return func(p *Policy) { p.scaleDownThreshold = n }
}

// WithCooldownPeriod sets the minimum time between scaling decisions.
func WithCooldownPeriod(d time.Duration) Option {
	return func(p *Policy) { p.cooldownPeriod = d }
}

// WithClock overrides the time source used for the cooldown.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// Policy defines the rules for elastic scaling decisions.
// It is safe for concurrent use.
type Policy struct {
	mu                 sync.Mutex
	minWorkers         int
	maxWorkers         int
	backlogPerWorker   int
	scaleDownThreshold int
	cooldownPeriod     time.Duration
	lastDecisionTime   time.Time
	now                func() time.Time
}

// NewPolicy creates a Policy with the given options.
// Unset options use defaults.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		minWorkers:         defaultMinWorkers,
		maxWorkers:         defaultMaxWorkers,
		backlogPerWorker:   defaultBacklogPerWorker,
		scaleDownThreshold: defaultScaleDownThreshold,
		cooldownPeriod:     defaultCooldownPeriod,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.normalize()
	return p
}

func (p *Policy) normalize() {
	p.minWorkers = max(p.minWorkers, 1)
	p.maxWorkers = max(p.maxWorkers, p.minWorkers)
	p.backlogPerWorker = max(p.backlogPerWorker, 1)
}

// SetBounds replaces the worker limits. It is used when the configuration
// is reloaded.
func (p *Policy) SetBounds(minWorkers, maxWorkers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minWorkers, p.maxWorkers = minWorkers, maxWorkers
	p.normalize()
}

// Bounds returns the current worker limits.
func (p *Policy) Bounds() (minWorkers, maxWorkers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minWorkers, p.maxWorkers
}

// Evaluate inspects the backlog and current worker count, returning a
// scaling decision. The cooldown period prevents rapid scaling thrash.
func (p *Policy) Evaluate(backlog, current int) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	// Check cooldown
	if !p.lastDecisionTime.IsZero() && now.Sub(p.lastDecisionTime) < p.cooldownPeriod {
		return Decision{
			Action: ActionNone,
			Target: current,
			Reason: "cooldown period active",
		}
	}

	// Outside the bounds (after a reload) the pool is moved back in range
	// regardless of load.
	if current < p.minWorkers {
		return p.decide(now, ActionScaleUp, current, p.minWorkers,
			fmt.Sprintf("%d workers below minimum %d", current, p.minWorkers))
	}
	if current > p.maxWorkers {
		return p.decide(now, ActionScaleDown, current, p.maxWorkers,
			fmt.Sprintf("%d workers above maximum %d", current, p.maxWorkers))
	}

	want := min(max((backlog+p.backlogPerWorker-1)/p.backlogPerWorker, p.minWorkers), p.maxWorkers)
	if want > current {
		return p.decide(now, ActionScaleUp, current, want,
			fmt.Sprintf("%d responses waiting for %d workers (%d per worker)", backlog, current, p.backlogPerWorker))
	}

	// Scale down by at most 1 at a time to be conservative
	if backlog <= p.scaleDownThreshold && current > p.minWorkers {
		return p.decide(now, ActionScaleDown, current, current-1,
			fmt.Sprintf("%d responses waiting (threshold: %d)", backlog, p.scaleDownThreshold))
	}

	return Decision{
		Action: ActionNone,
		Target: current,
		Reason: "no scaling needed",
	}
}

func (p *Policy) decide(now time.Time, action Action, current, target int, reason string) Decision {
	p.lastDecisionTime = now
	return Decision{
		Action: action,
		Delta:  target - current,
		Target: target,
		Reason: reason,
	}
}
