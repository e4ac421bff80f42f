package taskstore

import (
	"context"
	"time"
)

// Store is the durable record of every task and its lifecycle state.
//
// TryAssign, Reclaim and Finalize are the only transitions that need to be
// linearizable per task id; every implementation makes each of them a
// single atomic compare-and-transition. Reads (GetTask, ListTasks,
// Candidates) return copies and may observe slightly stale state.
type Store interface {
	// CreateTask inserts a new Pending task. Missing task and track ids are
	// generated. Fails with ErrDuplicateID if the id exists.
	CreateTask(ctx context.Context, task *Task) (*Task, error)

	// CreateBatch applies CreateTask to each item in submission order and
	// reports per-item results. There is no batch-wide rollback.
	CreateBatch(ctx context.Context, tasks []*Task) []BatchItemResult

	// GetTask returns a copy of the task or ErrNotFound.
	GetTask(ctx context.Context, id string) (*Task, error)

	// ListTasks returns tasks newest first. cursor is empty for the first
	// page and Page.NextCursor afterwards.
	ListTasks(ctx context.Context, filter Filter, limit int, cursor string) (Page, error)

	// Candidates returns Pending tasks whose base language matches
	// language (all Pending tasks when language is empty).
	Candidates(ctx context.Context, language string) ([]*Task, error)

	// TryAssign atomically moves a Pending task to Assigned for sessionID
	// with the given ttl. Fails with ErrConflict if the task is not
	// Pending, or with the context error before any change is made.
	TryAssign(ctx context.Context, id, sessionID string, ttl time.Duration) (*Task, error)

	// Reclaim atomically moves an Assigned task back to Pending if its
	// expiry is before now. It reports whether a transition happened.
	Reclaim(ctx context.Context, id string, now time.Time) (bool, error)

	// Expired lists up to limit ids of Assigned tasks whose expiry is
	// before now.
	Expired(ctx context.Context, now time.Time, limit int) ([]string, error)

	// Finalize atomically moves an Assigned task to Completed iff
	// sessionID holds the assignment; ErrAssignmentMismatch otherwise.
	Finalize(ctx context.Context, id, sessionID string) (*Task, error)

	// Retire moves a task from any state to Retired.
	Retire(ctx context.Context, id string) (*Task, error)

	// Counts returns the number of tasks per state.
	Counts(ctx context.Context) (Counts, error)

	// Close releases resources. Later calls fail with ErrStoreUnavailable.
	Close() error
}
