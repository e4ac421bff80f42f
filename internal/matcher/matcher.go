// Package matcher selects the best pending task for a session and assigns
// it through the task store.
package matcher

import (
	"cmp"
	"context"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"time"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
	"github.com/Iron-Ham/hotlabel/internal/logging"
	"github.com/Iron-Ham/hotlabel/internal/profile"
	"github.com/Iron-Ham/hotlabel/internal/taskstore"
)

// DefaultRankLimit is the number of matches Rank returns when no limit
// is given.
const DefaultRankLimit = 5

// Settings are the matcher's tunables. They may be replaced at runtime
// with SetSettings.
type Settings struct {
	Weights Weights
	// CandidateLimit caps how many ranked candidates one request tries
	// (0 = no cap).
	CandidateLimit int
	// TTL is the assignment lifetime passed to TryAssign.
	TTL time.Duration
	// MaxAttempts bounds TryAssign calls per request.
	MaxAttempts int
	// RetrySpread is how many of the best remaining candidates a retry
	// chooses from at random. Sessions that lost the same race then spread
	// over different tasks instead of colliding again. 1 keeps strict
	// ranked order.
	RetrySpread int
	// RetryTimeout bounds the time spent retrying after lost races.
	RetryTimeout time.Duration
}

// DefaultSettings returns the default tunables.
func DefaultSettings() Settings {
	return Settings{
		Weights:      DefaultWeights(),
		TTL:          10 * time.Minute,
		MaxAttempts:  5,
		RetrySpread:  16,
		RetryTimeout: 2 * time.Second,
	}
}

// Matcher ranks pending tasks against a session profile.
type Matcher struct {
	store    taskstore.Store
	profiles *profile.Tracker
	logger   *logging.Logger
	settings atomic.Pointer[Settings]
	globs    globCache
	now      func() time.Time
	intn     func(n int) int
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source used for the retry deadline.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

// WithRand overrides the source used to pick retry candidates. intn must
// return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(m *Matcher) { m.intn = intn }
}

// New creates a Matcher over store and profiles.
func New(store taskstore.Store, profiles *profile.Tracker, settings Settings, opts ...Option) *Matcher {
	m := &Matcher{
		store:    store,
		profiles: profiles,
		logger:   logging.NopLogger(),
		now:      time.Now,
		intn:     rand.IntN,
	}
	m.SetSettings(settings)
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("matcher")
	return m
}

// SetSettings replaces the tunables. Requests already in flight keep the
// settings they started with.
func (m *Matcher) SetSettings(s Settings) {
	if s.MaxAttempts < 1 {
		s.MaxAttempts = 1
	}
	if s.RetrySpread < 1 {
		s.RetrySpread = 1
	}
	m.settings.Store(&s)
}

// Settings returns the current tunables.
func (m *Matcher) Settings() Settings {
	return *m.settings.Load()
}

// candidates returns pending tasks in any of the session's languages that
// the session has not been served before.
func (m *Matcher) candidates(ctx context.Context, p *profile.Profile) ([]*taskstore.Task, error) {
	var bases []string
	for _, lang := range p.Languages() {
		if b := taskstore.BaseLanguage(lang); !slices.Contains(bases, b) {
			bases = append(bases, b)
		}
	}

	var out []*taskstore.Task
	for _, base := range bases {
		tasks, err := m.store.Candidates(ctx, base)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if !p.HasServed(t.ID) {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

// rank scores and orders candidates. Ties go to the oldest task, then the
// lowest id.
func (m *Matcher) rank(ctx context.Context, p *profile.Profile, w Weights) ([]Match, error) {
	tasks, err := m.candidates(ctx, p)
	if err != nil {
		return nil, err
	}

	terms := p.TopicTerms()
	matches := make([]Match, 0, len(tasks))
	for _, t := range tasks {
		matches = append(matches, m.score(p, terms, t, w))
	}

	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := a.Task.CreatedAt.Compare(b.Task.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Task.ID, b.Task.ID)
	})
	return matches, nil
}

// Rank returns up to limit scored matches for p without assigning any.
func (m *Matcher) Rank(ctx context.Context, p *profile.Profile, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = DefaultRankLimit
	}
	matches, err := m.rank(ctx, p, m.Settings().Weights)
	if err != nil {
		return nil, err
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// RequestTask assigns the best eligible task to the session p. The first
// attempt takes the top-ranked candidate. Losing a race moves on to a
// random pick among the best RetrySpread remaining candidates until
// MaxAttempts or RetryTimeout is exhausted, after which ErrNoTaskAvailable
// is returned. A cancelled context never leaves a partial assignment.
func (m *Matcher) RequestTask(ctx context.Context, p *profile.Profile) (*taskstore.Task, error) {
	if p == nil || p.SessionID == "" {
		return nil, herrors.NewValidationError("session id is required").WithField("session_id")
	}
	if err := ctx.Err(); err != nil {
		return nil, herrors.Canceled(err)
	}

	set := m.Settings()
	logger := m.logger.WithSession(p.SessionID)

	ranked, err := m.rank(ctx, p, set.Weights)
	if err != nil {
		return nil, err
	}
	if set.CandidateLimit > 0 && len(ranked) > set.CandidateLimit {
		ranked = ranked[:set.CandidateLimit]
	}

	deadline := m.now().Add(set.RetryTimeout)
	candidates := len(ranked)
	attempts := 0
	for len(ranked) > 0 {
		if attempts >= set.MaxAttempts {
			break
		}
		if attempts > 0 && set.RetryTimeout > 0 && !m.now().Before(deadline) {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, herrors.Canceled(err)
		}

		i := 0
		if attempts > 0 {
			i = m.intn(min(len(ranked), set.RetrySpread))
		}
		c := ranked[i]
		ranked = slices.Delete(ranked, i, i+1)

		attempts++
		task, err := m.store.TryAssign(ctx, c.Task.ID, p.SessionID, set.TTL)
		if err != nil {
			// Retired between ranking and assignment counts as a lost race.
			if herrors.IsRetryable(err) || herrors.Is(err, herrors.ErrNotFound) {
				logger.Debug("lost race for task", "task_id", c.Task.ID, "attempt", attempts)
				continue
			}
			return nil, err
		}

		if err := m.profiles.MarkServed(p.SessionID, task.ID); err != nil {
			logger.Warn("failed to mark task served", "task_id", task.ID, "error", err)
		}
		logger.Info("task assigned",
			"task_id", task.ID,
			"score", c.Score,
			"attempts", attempts,
			"expires_at", task.ExpiresAt,
		)
		return task, nil
	}

	logger.Debug("no task available", "candidates", candidates, "attempts", attempts)
	return nil, herrors.Wrapf(herrors.ErrNoTaskAvailable, "session %s", p.SessionID)
}
