// Package taskstore is the durable record of every labeling task and its
// lifecycle state.
//
// Two backends implement [Store]: [MemoryStore] keeps tasks in process with
// one mutex per task and can persist JSON snapshots through an afero
// filesystem, and [SQLiteStore] keeps them in SQLite where each transition
// is one conditional UPDATE. [EventStore] decorates either backend and
// publishes lifecycle events on an event bus.
//
// A memory-backed data directory has a single owner at a time, taken with
// [AcquireDataDir] before the snapshot is loaded and held until the last
// save.
//
// # State Machine
//
//	Pending -> Assigned   TryAssign (exactly one racer wins)
//	Assigned -> Completed Finalize  (holder only)
//	Assigned -> Pending   Reclaim   (after the assignment expires)
//	any -> Retired        Retire
package taskstore
