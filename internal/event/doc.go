// Package event provides a pub-sub event bus for the dispatch engine.
//
// Task stores publish lifecycle transitions, the response reconciler
// publishes submissions and the quality evaluator publishes outcomes and
// sweep summaries. Counters in the stats package and structured logging
// subscribe to these events; publishers never reference their consumers.
//
// # Event Categories
//
// Task lifecycle:
//   - [TaskCreatedEvent], [TaskAssignedEvent], [TaskReclaimedEvent],
//     [TaskCompletedEvent], [TaskRetiredEvent]
//   - [QueueDepthChangedEvent]: pending/assigned counts after a transition
//
// Responses:
//   - [ResponseSubmittedEvent], [ResponseEvaluatedEvent]
//
// Background work:
//   - [SweepCompletedEvent]: one evaluator pass finished
//   - [WorkersScaledEvent]: the evaluator pool was resized
//
// # Subscriptions
//
// Components that listen to several types register them through a
// [Group] and detach with [Group.Close]. A panicking handler is recovered,
// logged and counted in [Bus.HandlerPanics]; the remaining handlers still
// run.
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously on the publishing goroutine, so they must be fast and must
// not publish recursively while holding locks the publisher needs.
package event
