package engine

import (
	"context"

	"github.com/Iron-Ham/hotlabel/internal/evaluator"
	"github.com/Iron-Ham/hotlabel/internal/matcher"
	"github.com/Iron-Ham/hotlabel/internal/profile"
	"github.com/Iron-Ham/hotlabel/internal/response"
	"github.com/Iron-Ham/hotlabel/internal/taskstore"
)

// CreateTask stores a new pending task.
func (e *Engine) CreateTask(ctx context.Context, task *taskstore.Task) (*taskstore.Task, error) {
	return e.tasks.CreateTask(ctx, task)
}

// CreateBatch stores several tasks, reporting a result per item.
func (e *Engine) CreateBatch(ctx context.Context, tasks []*taskstore.Task) []taskstore.BatchItemResult {
	return e.tasks.CreateBatch(ctx, tasks)
}

// GetTask returns the task with id.
func (e *Engine) GetTask(ctx context.Context, id string) (*taskstore.Task, error) {
	return e.tasks.GetTask(ctx, id)
}

// ListTasks returns one page of tasks, newest first.
func (e *Engine) ListTasks(ctx context.Context, filter taskstore.Filter, limit int, cursor string) (taskstore.Page, error) {
	return e.tasks.ListTasks(ctx, filter, limit, cursor)
}

// RetireTask removes a task from circulation.
func (e *Engine) RetireTask(ctx context.Context, id string) (*taskstore.Task, error) {
	return e.tasks.Retire(ctx, id)
}

// RequestTask records attrs on the session's profile and assigns it the
// best eligible task.
func (e *Engine) RequestTask(ctx context.Context, sessionID string, attrs profile.Attributes) (*taskstore.Task, error) {
	p, err := e.profiles.UpsertProfile(sessionID, attrs)
	if err != nil {
		return nil, err
	}
	return e.matcher.RequestTask(ctx, p)
}

// MatchTasks records attrs on the session's profile and returns up to
// limit ranked matches without assigning any.
func (e *Engine) MatchTasks(ctx context.Context, sessionID string, attrs profile.Attributes, limit int) ([]matcher.Match, error) {
	p, err := e.profiles.UpsertProfile(sessionID, attrs)
	if err != nil {
		return nil, err
	}
	return e.matcher.Rank(ctx, p, limit)
}

// Profile returns the tracked profile of sessionID.
func (e *Engine) Profile(sessionID string) (*profile.Profile, error) {
	return e.profiles.Get(sessionID)
}

// SubmitResponse records an answer for an assigned task.
func (e *Engine) SubmitResponse(ctx context.Context, sub response.Submission) (*response.Response, error) {
	return e.reconciler.SubmitResponse(ctx, sub)
}

// SubmitBatch records several answers from one session.
func (e *Engine) SubmitBatch(ctx context.Context, sessionID string, subs []response.Submission) []response.BatchItemResult {
	return e.reconciler.SubmitBatch(ctx, sessionID, subs)
}

// GetResponse returns the response with id.
func (e *Engine) GetResponse(ctx context.Context, id string) (*response.Response, error) {
	return e.reconciler.GetResponse(ctx, id)
}

// Sweep runs one evaluator pass immediately.
func (e *Engine) Sweep(ctx context.Context) (evaluator.Summary, error) {
	return e.evaluator.Sweep(ctx)
}

// QueueDepth is the number of tasks waiting for and holding an assignment.
type QueueDepth struct {
	Pending  int `json:"pending"`
	Assigned int `json:"assigned"`
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Tasks          taskstore.Counts   `json:"tasks"`
	QueueDepth     QueueDepth         `json:"queue_depth"`
	CompletionRate float64            `json:"completion_rate"`
	ByCategory     map[string]int64   `json:"by_category"`
	ByType         map[string]int64   `json:"by_type"`
	Responses      response.Counts    `json:"responses"`
	Sessions       int                `json:"sessions"`
	Counters       map[string]int64   `json:"counters"`
	LastSweep      *evaluator.Summary `json:"last_sweep,omitempty"`
}

// Stats gathers counts from the stores and the event counters.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	counts, err := e.tasks.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	responses, err := e.responses.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}

	pending, assigned := e.tasks.Depth()
	s := Stats{
		Tasks:      counts,
		QueueDepth: QueueDepth{Pending: pending, Assigned: assigned},
		ByCategory: e.stats.Categories(),
		ByType:     e.stats.Types(),
		Responses:  responses,
		Sessions:   e.profiles.Count(),
		Counters:   e.stats.Snapshot(),
	}
	s.Counters["users:total"] = int64(s.Sessions)
	s.Counters["events:handler_panics"] = int64(e.bus.HandlerPanics())
	if counts.Total > 0 {
		s.CompletionRate = float64(counts.Completed) / float64(counts.Total) * 100
	}
	if last, ok := e.evaluator.LastSummary(); ok {
		s.LastSweep = &last
	}
	return s, nil
}
