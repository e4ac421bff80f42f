package response

import (
	"context"
	"sync"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
)

// Repository persists responses. Insert must reject a second response for
// the same task and session with ErrAlreadySubmitted.
type Repository interface {
	Insert(ctx context.Context, r *Response) error
	Get(ctx context.Context, id string) (*Response, error)
	FindByKey(ctx context.Context, taskID, sessionID string) (*Response, error)
	// Pending returns up to limit pending-review responses in submission
	// order. limit <= 0 means no limit.
	Pending(ctx context.Context, limit int) ([]*Response, error)
	SetEvaluation(ctx context.Context, id string, ev Evaluation) error
	Counts(ctx context.Context) (Counts, error)
	Close() error
}

type responseKey struct {
	taskID    string
	sessionID string
}

// MemoryRepository keeps responses in process.
type MemoryRepository struct {
	mu    sync.RWMutex
	byID  map[string]*Response
	byKey map[responseKey]string
	order []string
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:  make(map[string]*Response),
		byKey: make(map[responseKey]string),
	}
}

// Insert implements Repository.
func (m *MemoryRepository) Insert(ctx context.Context, r *Response) error {
	if err := ctx.Err(); err != nil {
		return herrors.Canceled(err)
	}
	key := responseKey{r.TaskID, r.SessionID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byKey[key]; ok {
		return alreadySubmitted(r.TaskID, r.SessionID)
	}
	if _, ok := m.byID[r.ID]; ok {
		return alreadySubmitted(r.TaskID, r.SessionID)
	}
	m.byID[r.ID] = r.Clone()
	m.byKey[key] = r.ID
	m.order = append(m.order, r.ID)
	return nil
}

// Get implements Repository.
func (m *MemoryRepository) Get(ctx context.Context, id string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, herrors.Canceled(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.byID[id]
	if !ok {
		return nil, notFound(id)
	}
	return r.Clone(), nil
}

// FindByKey implements Repository.
func (m *MemoryRepository) FindByKey(ctx context.Context, taskID, sessionID string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, herrors.Canceled(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[responseKey{taskID, sessionID}]
	if !ok {
		return nil, notFound(taskID + "/" + sessionID)
	}
	return m.byID[id].Clone(), nil
}

// Pending implements Repository.
func (m *MemoryRepository) Pending(ctx context.Context, limit int) ([]*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, herrors.Canceled(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Response
	for _, id := range m.order {
		r := m.byID[id]
		if r.Status != StatusPending {
			continue
		}
		out = append(out, r.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// SetEvaluation implements Repository.
func (m *MemoryRepository) SetEvaluation(ctx context.Context, id string, ev Evaluation) error {
	if err := ctx.Err(); err != nil {
		return herrors.Canceled(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byID[id]
	if !ok {
		return notFound(id)
	}
	applyEvaluation(r, ev)
	return nil
}

func applyEvaluation(r *Response, ev Evaluation) {
	score := ev.Score
	at := ev.EvaluatedAt
	r.Status = ev.Status
	r.QualityScore = &score
	r.QualityLevel = ev.Level
	r.Reason = ev.Reason
	r.EvaluatedAt = &at
}

// Counts implements Repository.
func (m *MemoryRepository) Counts(ctx context.Context) (Counts, error) {
	if err := ctx.Err(); err != nil {
		return Counts{}, herrors.Canceled(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := newCounts()
	for _, r := range m.byID {
		c.Total++
		c.ByStatus[r.Status]++
		if r.QualityLevel != "" {
			c.ByLevel[r.QualityLevel]++
		}
	}
	return c, nil
}

// Close implements Repository.
func (m *MemoryRepository) Close() error {
	return nil
}
