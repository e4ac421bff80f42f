// Package scaling sizes the evaluator's worker pool from the review
// backlog.
//
// After every sweep the [Monitor] reads the number of responses still
// waiting for review and asks a [Policy] whether the pool should grow or
// shrink. Growth jumps straight to the size the backlog calls for; shrinking
// removes one worker at a time. A cooldown between decisions prevents
// thrash.
//
// # Usage
//
//	policy := scaling.NewPolicy(
//	    scaling.WithMinWorkers(4),
//	    scaling.WithMaxWorkers(16),
//	    scaling.WithBacklogPerWorker(50),
//	    scaling.WithCooldownPeriod(30 * time.Second),
//	)
//
//	monitor := scaling.NewMonitor(bus, policy, backlog, 4)
//	monitor.OnDecision(func(d scaling.Decision) {
//	    ev.SetWorkers(d.Target)
//	})
//	go monitor.Start(ctx)
//	defer monitor.Stop()
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package scaling
