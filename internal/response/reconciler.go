package response

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
	"github.com/Iron-Ham/hotlabel/internal/event"
	"github.com/Iron-Ham/hotlabel/internal/logging"
	"github.com/Iron-Ham/hotlabel/internal/profile"
	"github.com/Iron-Ham/hotlabel/internal/taskstore"
)

// Reconciler turns a submission into a finalized task and a stored
// response. A (task, session) pair yields at most one response: the pair
// is reserved in memory while a submission is in flight and the
// repository rejects a second insert for it.
type Reconciler struct {
	tasks    taskstore.Store
	repo     Repository
	profiles *profile.Tracker
	bus      *event.Bus
	logger   *logging.Logger
	now      func() time.Time

	inflight sync.Map // responseKey -> struct{}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithBus publishes response.submitted events on bus.
func WithBus(bus *event.Bus) Option {
	return func(r *Reconciler) { r.bus = bus }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler creates a Reconciler.
func NewReconciler(tasks taskstore.Store, repo Repository, profiles *profile.Tracker, opts ...Option) *Reconciler {
	r := &Reconciler{
		tasks:    tasks,
		repo:     repo,
		profiles: profiles,
		logger:   logging.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("reconciler")
	return r
}

// reserve claims key for the duration of one submission.
func (r *Reconciler) reserve(key responseKey) (release func(), ok bool) {
	if _, loaded := r.inflight.LoadOrStore(key, struct{}{}); loaded {
		return nil, false
	}
	return func() { r.inflight.Delete(key) }, true
}

// SubmitResponse validates sub against the task's assignment, completes
// the task and stores the response for evaluation.
func (r *Reconciler) SubmitResponse(ctx context.Context, sub Submission) (*Response, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, herrors.Canceled(err)
	}

	key := responseKey{sub.TaskID, sub.SessionID}
	release, ok := r.reserve(key)
	if !ok {
		return nil, alreadySubmitted(sub.TaskID, sub.SessionID)
	}
	defer release()

	if _, err := r.repo.FindByKey(ctx, sub.TaskID, sub.SessionID); err == nil {
		return nil, alreadySubmitted(sub.TaskID, sub.SessionID)
	} else if !herrors.Is(err, herrors.ErrNotFound) {
		return nil, err
	}

	task, err := r.tasks.GetTask(ctx, sub.TaskID)
	if err != nil {
		return nil, err
	}
	if task.State != taskstore.StateAssigned || task.AssignedTo != sub.SessionID {
		return nil, herrors.NewAssignmentError("task is not assigned to this session", herrors.ErrAssignmentMismatch).
			WithTaskID(task.ID).
			WithSessionID(sub.SessionID).
			WithHolder(task.AssignedTo)
	}

	task, err = r.tasks.Finalize(ctx, sub.TaskID, sub.SessionID)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		SessionID: sub.SessionID,
		TrackID:   task.TrackID,
		Payload:   sub.Payload,
		LatencyMS: sub.LatencyMS,
		Metadata:  sub.Metadata,
		Status:    StatusPending,
		CreatedAt: r.now(),
	}
	// The task is already completed, so a cancelled caller must not stop
	// the response from being recorded.
	if err := r.repo.Insert(context.WithoutCancel(ctx), resp); err != nil {
		r.logger.WithTask(task.ID).Error("task completed but response not stored",
			"session_id", sub.SessionID,
			"error", err,
		)
		return nil, err
	}

	if err := r.profiles.MarkServed(sub.SessionID, task.ID); err != nil {
		r.logger.Warn("failed to mark task served", "task_id", task.ID, "error", err)
	}
	if r.bus != nil {
		r.bus.Publish(event.NewResponseSubmittedEvent(resp.ID, resp.TaskID, resp.SessionID, resp.LatencyMS))
	}
	r.logger.WithTask(task.ID).Info("response submitted",
		"session_id", sub.SessionID,
		"response_id", resp.ID,
		"latency_ms", sub.LatencyMS,
	)
	return resp.Clone(), nil
}

// SubmitBatch submits every item for sessionID and reports per-item
// results. Items naming another session fail validation.
func (r *Reconciler) SubmitBatch(ctx context.Context, sessionID string, subs []Submission) []BatchItemResult {
	results := make([]BatchItemResult, len(subs))
	for i, sub := range subs {
		results[i].TaskID = sub.TaskID
		if sub.SessionID == "" {
			sub.SessionID = sessionID
		}
		if sub.SessionID != sessionID {
			results[i].Err = herrors.NewValidationError("session id does not match batch session").
				WithField("session_id").
				WithValue(sub.SessionID)
			continue
		}
		resp, err := r.SubmitResponse(ctx, sub)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].ResponseID = resp.ID
	}
	return results
}

// GetResponse returns the response with id.
func (r *Reconciler) GetResponse(ctx context.Context, id string) (*Response, error) {
	return r.repo.Get(ctx, id)
}

// Pending returns up to limit responses awaiting evaluation, oldest first.
func (r *Reconciler) Pending(ctx context.Context, limit int) ([]*Response, error) {
	return r.repo.Pending(ctx, limit)
}
