// Package evaluator runs the periodic quality sweep: it returns expired
// assignments to the pending pool and scores submitted responses on a
// bounded worker pool.
package evaluator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
	"github.com/Iron-Ham/hotlabel/internal/event"
	"github.com/Iron-Ham/hotlabel/internal/logging"
	"github.com/Iron-Ham/hotlabel/internal/profile"
	"github.com/Iron-Ham/hotlabel/internal/response"
	"github.com/Iron-Ham/hotlabel/internal/taskstore"
)

// Settings are the evaluator's tunables.
type Settings struct {
	// BatchSize is the number of pending responses evaluated per sweep.
	BatchSize int
	// Workers bounds concurrent evaluations.
	Workers int
	// MinLatency is the plausibility threshold for answer time.
	MinLatency time.Duration
}

// DefaultSettings returns the default tunables.
func DefaultSettings() Settings {
	return Settings{BatchSize: 100, Workers: 4, MinLatency: time.Second}
}

// Summary describes one sweep.
type Summary struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Reclaimed int           `json:"reclaimed"`
	Evaluated int           `json:"evaluated"`
	Accepted  int           `json:"accepted"`
	Rejected  int           `json:"rejected"`
	Failed    int           `json:"failed"`
}

// Evaluator performs sweeps. Concurrent Sweep calls are serialized.
type Evaluator struct {
	tasks    taskstore.Store
	repo     response.Repository
	profiles *profile.Tracker
	bus      *event.Bus
	logger   *logging.Logger
	settings atomic.Pointer[Settings]
	now      func() time.Time

	sweepMu sync.Mutex
	last    atomic.Pointer[Summary]
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithBus publishes evaluation and sweep events on bus.
func WithBus(bus *event.Bus) Option {
	return func(e *Evaluator) { e.bus = bus }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// New creates an Evaluator.
func New(tasks taskstore.Store, repo response.Repository, profiles *profile.Tracker, settings Settings, opts ...Option) *Evaluator {
	e := &Evaluator{
		tasks:    tasks,
		repo:     repo,
		profiles: profiles,
		logger:   logging.NopLogger(),
		now:      time.Now,
	}
	e.SetSettings(settings)
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("evaluator")
	return e
}

// SetSettings replaces the tunables; the next sweep picks them up.
func (e *Evaluator) SetSettings(s Settings) {
	if s.Workers < 1 {
		s.Workers = 1
	}
	e.settings.Store(&s)
}

// Settings returns the current tunables.
func (e *Evaluator) Settings() Settings {
	return *e.settings.Load()
}

// LastSummary returns the most recent sweep summary.
func (e *Evaluator) LastSummary() (Summary, bool) {
	s := e.last.Load()
	if s == nil {
		return Summary{}, false
	}
	return *s, true
}

func (e *Evaluator) publish(ev event.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// Sweep reclaims expired assignments and evaluates one batch of pending
// responses. A failure on one response is logged and counted; that
// response stays pending for the next sweep.
func (e *Evaluator) Sweep(ctx context.Context) (Summary, error) {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	set := e.Settings()
	sum := Summary{StartedAt: e.now()}

	reclaimed, reclaimErr := e.reclaimExpired(ctx, sum.StartedAt)
	sum.Reclaimed = reclaimed

	evalErr := e.evaluatePending(ctx, set, &sum)

	sum.Duration = e.now().Sub(sum.StartedAt)
	e.last.Store(&sum)
	e.publish(event.NewSweepCompletedEvent(sum.Reclaimed, sum.Evaluated, sum.Accepted, sum.Rejected, sum.Failed, sum.Duration))

	if err := herrors.Join(reclaimErr, evalErr); err != nil {
		e.logger.Error("sweep incomplete", "error", err)
		return sum, err
	}
	if sum.Reclaimed > 0 || sum.Evaluated > 0 || sum.Failed > 0 {
		e.logger.Info("sweep completed",
			"reclaimed", sum.Reclaimed,
			"evaluated", sum.Evaluated,
			"accepted", sum.Accepted,
			"rejected", sum.Rejected,
			"failed", sum.Failed,
			"duration", sum.Duration,
		)
	}
	return sum, nil
}

// reclaimExpired returns every expired assignment to the pending pool.
func (e *Evaluator) reclaimExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := e.tasks.Expired(ctx, now, 0)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	reclaimed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return reclaimed, herrors.Canceled(err)
		}
		ok, err := e.tasks.Reclaim(ctx, id, now)
		if err != nil {
			e.logger.WithTask(id).Warn("reclaim failed", "error", err)
			continue
		}
		if ok {
			reclaimed++
			e.logger.WithTask(id).Debug("assignment reclaimed")
		}
	}
	return reclaimed, nil
}

type outcome struct {
	resp    *response.Response
	verdict Verdict
	err     error
}

func (e *Evaluator) evaluatePending(ctx context.Context, set Settings, sum *Summary) error {
	pending, err := e.repo.Pending(ctx, set.BatchSize)
	if err != nil {
		return fmt.Errorf("list pending responses: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	p := pool.NewWithResults[outcome]().WithMaxGoroutines(set.Workers)
	for _, r := range pending {
		p.Go(func() outcome {
			return e.evaluateIsolated(ctx, set, r)
		})
	}

	for _, o := range p.Wait() {
		if o.err != nil {
			sum.Failed++
			e.logger.WithTask(o.resp.TaskID).Error("evaluation failed",
				"response_id", o.resp.ID,
				"error", o.err,
			)
			continue
		}
		sum.Evaluated++
		if o.verdict.Accepted() {
			sum.Accepted++
		} else {
			sum.Rejected++
		}
	}
	return nil
}

// evaluateIsolated runs evaluateOne, converting a panic into an error so
// one bad response cannot take down the batch.
func (e *Evaluator) evaluateIsolated(ctx context.Context, set Settings, r *response.Response) outcome {
	o := outcome{resp: r}
	var pc panics.Catcher
	pc.Try(func() {
		o.verdict, o.err = e.evaluateOne(ctx, set, r)
	})
	if rec := pc.Recovered(); rec != nil {
		o.err = rec.AsError()
	}
	return o
}

func (e *Evaluator) evaluateOne(ctx context.Context, set Settings, r *response.Response) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, herrors.Canceled(err)
	}

	var v Verdict
	task, err := e.tasks.GetTask(ctx, r.TaskID)
	switch {
	case err == nil:
		v = Evaluate(task, r, set.MinLatency)
	case herrors.Is(err, herrors.ErrNotFound):
		v = verdict(response.StatusRejected, 0, "task no longer exists")
	default:
		return Verdict{}, err
	}

	if err := e.repo.SetEvaluation(ctx, r.ID, response.Evaluation{
		Status:      v.Status,
		Score:       v.Score,
		Level:       v.Level,
		Reason:      v.Reason,
		EvaluatedAt: e.now(),
	}); err != nil {
		return Verdict{}, err
	}

	quality := 0.0
	if v.Accepted() {
		quality = v.Score
	}
	if _, err := e.profiles.RecordOutcome(r.SessionID, quality, v.Accepted()); err != nil {
		e.logger.WithSession(r.SessionID).Warn("failed to record outcome", "error", err)
	}

	e.publish(event.NewResponseEvaluatedEvent(r.ID, r.TaskID, r.SessionID, string(v.Status), v.Score, string(v.Level), v.Reason))
	e.logger.WithTask(r.TaskID).Debug("response evaluated",
		"response_id", r.ID,
		"session_id", r.SessionID,
		"status", v.Status,
		"score", v.Score,
	)
	return v, nil
}
