package profile

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
)

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 32

// Smoothing holds the EMA weights applied on updates.
type Smoothing struct {
	// Quality is the weight of a new outcome in the quality score.
	Quality float64
	// Interest is the weight of a new visit in a category interest.
	Interest float64
}

// DefaultSmoothing returns the default EMA weights.
func DefaultSmoothing() Smoothing {
	return Smoothing{Quality: 0.2, Interest: 0.1}
}

type entry struct {
	mu sync.Mutex
	p  *Profile
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Tracker owns every session profile.
type Tracker struct {
	shards    []*shard
	smoothing atomic.Pointer[Smoothing]
	count     atomic.Int64
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithShards sets the number of shards. Values below one are ignored.
func WithShards(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.shards = makeShards(n)
		}
	}
}

// WithSmoothing sets the initial EMA weights.
func WithSmoothing(s Smoothing) Option {
	return func(t *Tracker) { t.smoothing.Store(&s) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func makeShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return shards
}

// NewTracker creates an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		shards: makeShards(DefaultShards),
		now:    time.Now,
	}
	def := DefaultSmoothing()
	t.smoothing.Store(&def)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetSmoothing replaces the EMA weights. Safe to call while the tracker
// is in use.
func (t *Tracker) SetSmoothing(s Smoothing) {
	t.smoothing.Store(&s)
}

// Smoothing returns the current EMA weights.
func (t *Tracker) Smoothing() Smoothing {
	return *t.smoothing.Load()
}

func (t *Tracker) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

func (t *Tracker) lookup(sessionID string) *entry {
	sh := t.shardFor(sessionID)
	sh.mu.RLock()
	e := sh.entries[sessionID]
	sh.mu.RUnlock()
	return e
}

// getOrCreate returns the entry for sessionID, creating it if needed.
func (t *Tracker) getOrCreate(sessionID string) *entry {
	if e := t.lookup(sessionID); e != nil {
		return e
	}
	sh := t.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[sessionID]; ok {
		return e
	}
	e := &entry{p: newProfile(sessionID, t.now())}
	sh.entries[sessionID] = e
	t.count.Add(1)
	return e
}

func requireSession(sessionID string) error {
	if sessionID == "" {
		return herrors.NewValidationError("session id is required").WithField("session_id")
	}
	return nil
}

// UpsertProfile creates the profile for sessionID if absent and merges
// attrs into it. It returns a copy of the updated profile.
func (t *Tracker) UpsertProfile(sessionID string, attrs Attributes) (*Profile, error) {
	if err := requireSession(sessionID); err != nil {
		return nil, err
	}
	e := t.getOrCreate(sessionID)
	alpha := t.smoothing.Load().Interest

	e.mu.Lock()
	defer e.mu.Unlock()
	e.p.merge(attrs, alpha)
	e.p.LastSeen = t.now()
	return e.p.Clone(), nil
}

// MarkServed records that taskID was handed to sessionID. Repeated calls
// have no further effect.
func (t *Tracker) MarkServed(sessionID, taskID string) error {
	if err := requireSession(sessionID); err != nil {
		return err
	}
	e := t.getOrCreate(sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.p.Served[taskID] = struct{}{}
	return nil
}

// HasServed reports whether taskID was handed to sessionID.
func (t *Tracker) HasServed(sessionID, taskID string) bool {
	e := t.lookup(sessionID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.HasServed(taskID)
}

// RecordOutcome folds an evaluated response into the session's quality
// score and bumps the completed or rejected counter.
func (t *Tracker) RecordOutcome(sessionID string, quality float64, accepted bool) (*Profile, error) {
	if err := requireSession(sessionID); err != nil {
		return nil, err
	}
	e := t.getOrCreate(sessionID)
	alpha := t.smoothing.Load().Quality

	e.mu.Lock()
	defer e.mu.Unlock()
	e.p.QualityScore = (1-alpha)*e.p.QualityScore + alpha*clamp01(quality)
	if accepted {
		e.p.Completed++
	} else {
		e.p.Rejected++
	}
	return e.p.Clone(), nil
}

// Get returns a copy of the profile for sessionID.
func (t *Tracker) Get(sessionID string) (*Profile, error) {
	e := t.lookup(sessionID)
	if e == nil {
		return nil, herrors.NewNotFoundError("session", sessionID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.Clone(), nil
}

// Count returns the number of known sessions.
func (t *Tracker) Count() int {
	return int(t.count.Load())
}
