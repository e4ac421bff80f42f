package taskstore

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
)

var errClosed = errors.New("memory store closed")

// entry guards one task. Every state transition holds entry.mu, so
// transitions on different tasks never contend.
type entry struct {
	mu   sync.Mutex
	task *Task
}

func (e *entry) snapshot() *Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone()
}

// MemoryStore is an in-process Store. The RWMutex guards only the index
// and the creation ordering; task state is guarded per entry.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []sortKey // ascending (created, id)
	closed  bool

	now func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newMemoryStoreFrom rebuilds a store from persisted tasks.
func newMemoryStoreFrom(tasks []*Task, opts ...MemoryOption) *MemoryStore {
	s := NewMemoryStore(opts...)
	for _, t := range tasks {
		s.entries[t.ID] = &entry{task: t}
		s.order = append(s.order, keyOf(t))
	}
	slices.SortFunc(s.order, func(a, b sortKey) int { return a.compare(b) })
	return s
}

func (s *MemoryStore) lookup(op, id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, herrors.NewStoreError(op, errClosed)
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, notFound(id)
	}
	return e, nil
}

// CreateTask implements Store.
func (s *MemoryStore) CreateTask(ctx context.Context, task *Task) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, herrors.Canceled(err)
	}
	t, err := prepareNew(task, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, herrors.NewStoreError("create_task", errClosed)
	}
	if _, exists := s.entries[t.ID]; exists {
		return nil, duplicate(t.ID)
	}

	s.entries[t.ID] = &entry{task: t}
	k := keyOf(t)
	pos, _ := slices.BinarySearchFunc(s.order, k, func(a, b sortKey) int { return a.compare(b) })
	s.order = slices.Insert(s.order, pos, k)

	return t.Clone(), nil
}

// CreateBatch implements Store.
func (s *MemoryStore) CreateBatch(ctx context.Context, tasks []*Task) []BatchItemResult {
	return createBatch(ctx, s, tasks)
}

// createBatch applies CreateTask sequentially so duplicates inside the
// batch fail against the evolving store state.
func createBatch(ctx context.Context, s Store, tasks []*Task) []BatchItemResult {
	results := make([]BatchItemResult, len(tasks))
	for i, task := range tasks {
		if task == nil {
			results[i] = BatchItemResult{Err: herrors.NewValidationError("task is required")}
			continue
		}
		created, err := s.CreateTask(ctx, task)
		if err != nil {
			results[i] = BatchItemResult{ID: task.ID, Err: err}
			continue
		}
		results[i] = BatchItemResult{ID: created.ID}
	}
	return results
}

// GetTask implements Store.
func (s *MemoryStore) GetTask(ctx context.Context, id string) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, herrors.Canceled(err)
	}
	e, err := s.lookup("get_task", id)
	if err != nil {
		return nil, err
	}
	return e.snapshot(), nil
}

// ListTasks implements Store.
func (s *MemoryStore) ListTasks(ctx context.Context, filter Filter, limit int, cursor string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, herrors.Canceled(err)
	}
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Page{}, herrors.NewStoreError("list_tasks", errClosed)
	}

	// Walk newest first, starting strictly below the cursor key.
	start := len(s.order) - 1
	if cursor != "" {
		after, err := decodeCursor(cursor)
		if err != nil {
			return Page{}, err
		}
		pos, _ := slices.BinarySearchFunc(s.order, after, func(a, b sortKey) int { return a.compare(b) })
		start = pos - 1
	}

	page := Page{Tasks: make([]*Task, 0, min(limit, len(s.order)))}
	for i := start; i >= 0; i-- {
		t := s.entries[s.order[i].id].snapshot()
		if !filter.Matches(t) {
			continue
		}
		if len(page.Tasks) == limit {
			// One more match exists, so the sequence continues.
			page.NextCursor = encodeCursor(keyOf(page.Tasks[limit-1]))
			break
		}
		page.Tasks = append(page.Tasks, t)
	}
	return page, nil
}

// Candidates implements Store.
func (s *MemoryStore) Candidates(ctx context.Context, language string) ([]*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, herrors.Canceled(err)
	}
	base := BaseLanguage(language)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, herrors.NewStoreError("candidates", errClosed)
	}

	var out []*Task
	for _, k := range s.order {
		e := s.entries[k.id]
		e.mu.Lock()
		if e.task.State == StatePending && (base == "" || BaseLanguage(e.task.Language) == base) {
			out = append(out, e.task.Clone())
		}
		e.mu.Unlock()
	}
	return out, nil
}

// TryAssign implements Store.
func (s *MemoryStore) TryAssign(ctx context.Context, id, sessionID string, ttl time.Duration) (*Task, error) {
	if sessionID == "" {
		return nil, herrors.NewValidationError("session id is required").WithField("session_id")
	}
	e, err := s.lookup("try_assign", id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Checked under the lock: past this point the transition always commits.
	if err := ctx.Err(); err != nil {
		return nil, herrors.Canceled(err)
	}
	if e.task.State != StatePending {
		return nil, conflict(id, sessionID, e.task.State, e.task.AssignedTo)
	}

	now := s.now()
	expires := now.Add(ttl)
	e.task.State = StateAssigned
	e.task.AssignedTo = sessionID
	e.task.AssignedAt = &now
	e.task.ExpiresAt = &expires
	e.task.UpdatedAt = now
	return e.task.Clone(), nil
}

// Reclaim implements Store.
func (s *MemoryStore) Reclaim(ctx context.Context, id string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, herrors.Canceled(err)
	}
	e, err := s.lookup("reclaim", id)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.task.IsExpired(now) {
		return false, nil
	}
	e.task.State = StatePending
	e.task.AssignedTo = ""
	e.task.AssignedAt = nil
	e.task.ExpiresAt = nil
	e.task.UpdatedAt = s.now()
	return true, nil
}

// Expired implements Store.
func (s *MemoryStore) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, herrors.Canceled(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, herrors.NewStoreError("expired", errClosed)
	}

	var ids []string
	for _, k := range s.order {
		if limit > 0 && len(ids) >= limit {
			break
		}
		e := s.entries[k.id]
		e.mu.Lock()
		if e.task.IsExpired(now) {
			ids = append(ids, k.id)
		}
		e.mu.Unlock()
	}
	return ids, nil
}

// Finalize implements Store.
func (s *MemoryStore) Finalize(ctx context.Context, id, sessionID string) (*Task, error) {
	e, err := s.lookup("finalize", id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, herrors.Canceled(err)
	}
	if e.task.State != StateAssigned || e.task.AssignedTo != sessionID {
		return nil, mismatch(id, sessionID, e.task.State, e.task.AssignedTo)
	}

	e.task.State = StateCompleted
	e.task.UpdatedAt = s.now()
	return e.task.Clone(), nil
}

// Retire implements Store.
func (s *MemoryStore) Retire(ctx context.Context, id string) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, herrors.Canceled(err)
	}
	e, err := s.lookup("retire", id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.task.State = StateRetired
	e.task.AssignedTo = ""
	e.task.AssignedAt = nil
	e.task.ExpiresAt = nil
	e.task.UpdatedAt = s.now()
	return e.task.Clone(), nil
}

// Counts implements Store.
func (s *MemoryStore) Counts(ctx context.Context) (Counts, error) {
	if err := ctx.Err(); err != nil {
		return Counts{}, herrors.Canceled(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Counts{}, herrors.NewStoreError("counts", errClosed)
	}

	var c Counts
	for _, e := range s.entries {
		e.mu.Lock()
		c.add(e.task.State, 1)
		e.mu.Unlock()
	}
	return c, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// all returns copies of every task in creation order.
func (s *MemoryStore) all() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Task, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.entries[k.id].snapshot())
	}
	return out
}
